// Command survey-token prints an API bearer token for an account, signed with
// JWT_SECRET. It is meant for local runs and smoke tests.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hard-gainer/survey-service/internal/api"
	"github.com/hard-gainer/survey-service/internal/config"
)

func main() {
	account := flag.String("account", "", "account id put in the sub claim")
	admin := flag.Bool("admin", false, "grant the admin role")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "usage: survey-token -account ID [-admin]")
		os.Exit(2)
	}

	cfg := config.NewConfig()

	role := ""
	if *admin {
		role = api.RoleAdmin
	}

	token, err := api.SignToken(cfg.JWTSecret, *account, role)
	if err != nil {
		slog.Error("Failed to sign token", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
