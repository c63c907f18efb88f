package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hard-gainer/survey-service/internal/config"
	"github.com/hard-gainer/survey-service/internal/model"
	"github.com/hard-gainer/survey-service/internal/service"
)

// SurveyHandler is the survey use cases the API exposes
type SurveyHandler interface {
	CreateSurvey(ctx context.Context, question string, answers []model.SurveyOption, creatorID string) (*model.Survey, error)
	ListSurveys(ctx context.Context) ([]*model.Survey, error)
	SubmitAnswer(ctx context.Context, surveyID, accountID, answer string, answeredAt time.Time) (*model.ResultView, error)
	GetSurveyResult(ctx context.Context, surveyID, accountID string) (*model.ResultView, error)
}

// CommandHandler represents an interface for handling slash commands
type CommandHandler interface {
	HandleCommand(command string, args []string, userID, channelID string) (string, error)
}

// CreateSurveyRequest is the body of POST /api/surveys
type CreateSurveyRequest struct {
	Question string               `json:"question" binding:"required"`
	Answers  []model.SurveyOption `json:"answers" binding:"required,min=2"`
}

// SaveSurveyResultRequest is the body of PUT /api/surveys/:surveyId/results
type SaveSurveyResultRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// CommandRequest represents a request to execute a command
type CommandRequest struct {
	Command   string   `json:"command" form:"command"`
	Text      string   `json:"text" form:"text"`
	Args      []string `json:"args" form:"-"`
	UserID    string   `json:"user_id" form:"user_id"`
	ChannelID string   `json:"channel_id" form:"channel_id"`
	Token     string   `json:"token" form:"token"`
}

// CommandResponse represents an answer to execute a command
type CommandResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// HTTPHandler serves the HTTP API
type HTTPHandler struct {
	server         *http.Server
	engine         *gin.Engine
	surveys        SurveyHandler
	commandHandler CommandHandler
	commandTokens  [][]byte
	auth           *AuthMiddleware
}

// NewHTTPHandler creates a new HTTP-handler for requests
func NewHTTPHandler(cfg config.HTTPConfig, authCfg config.AuthConfig, surveys SurveyHandler) *HTTPHandler {
	h := &HTTPHandler{
		surveys: surveys,
		auth:    NewAuthMiddleware(authCfg.JWTSecret),
	}

	h.engine = gin.New()
	h.engine.Use(gin.Recovery(), requestLogger())
	h.registerRoutes()

	h.server = &http.Server{
		Addr:         cfg.APIHTTPAddr,
		Handler:      h.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// SetCommandHandler enables POST /commands, call it before Start. Only
// requests carrying one of tokens are served.
func (h *HTTPHandler) SetCommandHandler(handler CommandHandler, tokens ...string) {
	h.commandHandler = handler
	h.commandTokens = h.commandTokens[:0]
	for _, token := range tokens {
		if token != "" {
			h.commandTokens = append(h.commandTokens, []byte(token))
		}
	}
}

// validCommandToken checks the per-command token Mattermost sends with
// every slash command request
func (h *HTTPHandler) validCommandToken(token string) bool {
	if token == "" {
		return false
	}
	for _, known := range h.commandTokens {
		if subtle.ConstantTimeCompare(known, []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// Handler returns the router, for tests
func (h *HTTPHandler) Handler() http.Handler {
	return h.engine
}

func (h *HTTPHandler) registerRoutes() {
	h.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.engine.POST("/commands", h.handleCommand)

	api := h.engine.Group("/api", h.auth.RequireAuth())
	api.GET("/surveys", h.listSurveys)
	api.POST("/surveys", h.auth.RequireRole(RoleAdmin), h.createSurvey)
	api.PUT("/surveys/:surveyId/results", h.saveSurveyResult)
	api.GET("/surveys/:surveyId/results", h.loadSurveyResult)
}

// Start starts an HTTP-server
func (h *HTTPHandler) Start() {
	go func() {
		slog.Info("Starting HTTP server", "address", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	slog.Info("HTTP server started")
}

// Stop stops an HTTP-server
func (h *HTTPHandler) Stop() error {
	slog.Info("Shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *HTTPHandler) createSurvey(c *gin.Context) {
	var req CreateSurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, err := h.surveys.CreateSurvey(c.Request.Context(), req.Question, req.Answers, c.GetString(accountIDKey))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, survey)
}

func (h *HTTPHandler) listSurveys(c *gin.Context) {
	surveys, err := h.surveys.ListSurveys(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, surveys)
}

func (h *HTTPHandler) saveSurveyResult(c *gin.Context) {
	var req SaveSurveyResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.surveys.SubmitAnswer(c.Request.Context(), c.Param("surveyId"), c.GetString(accountIDKey), req.Answer, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) loadSurveyResult(c *gin.Context) {
	view, err := h.surveys.GetSurveyResult(c.Request.Context(), c.Param("surveyId"), c.GetString(accountIDKey))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// handleCommand handles Mattermost slash command requests
func (h *HTTPHandler) handleCommand(c *gin.Context) {
	if h.commandHandler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands are not enabled"})
		return
	}

	var req CommandRequest
	if strings.Contains(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Error("Failed to parse JSON request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Bad request"})
			return
		}
	} else {
		if err := c.ShouldBind(&req); err != nil {
			slog.Error("Failed to parse form data", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Bad request"})
			return
		}
	}

	if !h.validCommandToken(req.Token) {
		slog.Warn("Rejected command with unknown token", "command", req.Command)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid command token"})
		return
	}

	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	args := req.Args
	if len(args) == 0 && req.Text != "" {
		args = parseCommandArgs(req.Text)
		slog.Debug("Parsed arguments", "count", len(args), "args", args)
	}

	commandName := strings.TrimPrefix(req.Command, "/")

	slog.Info("Processing command",
		"command", commandName,
		"args", args,
		"user_id", req.UserID,
		"channel_id", req.ChannelID)

	response, err := h.commandHandler.HandleCommand(commandName, args, req.UserID, req.ChannelID)
	if err != nil {
		slog.Error("Failed to handle command", "error", err)
		c.JSON(http.StatusOK, CommandResponse{
			ResponseType: "ephemeral",
			Text:         "Error: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, CommandResponse{
		ResponseType: "in_channel",
		Text:         response,
	})
}

// writeError maps service errors to HTTP statuses
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSurveyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidAnswer), errors.Is(err, service.ErrInvalidSurvey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// requestLogger logs every request with slog
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// parseCommandArgs parses command arguments enclosed in double quotes
func parseCommandArgs(text string) []string {
	if text == "" {
		return nil
	}

	var args []string
	var currentArg strings.Builder
	inQuotes := false

	for i := 0; i < len(text); i++ {
		char := text[i]

		switch char {
		case '"':
			inQuotes = !inQuotes

			if !inQuotes && currentArg.Len() > 0 {
				args = append(args, currentArg.String())
				currentArg.Reset()
			}
		case ' ', '\t', '\n', '\r':
			if inQuotes {
				currentArg.WriteByte(char)
			} else if currentArg.Len() > 0 {
				args = append(args, currentArg.String())
				currentArg.Reset()
			}
		default:
			currentArg.WriteByte(char)
		}
	}

	if currentArg.Len() > 0 {
		args = append(args, currentArg.String())
	}

	return args
}
