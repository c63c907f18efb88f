package mattermost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hard-gainer/survey-service/internal/config"
	domain "github.com/hard-gainer/survey-service/internal/model"
	"github.com/hard-gainer/survey-service/internal/service"
	"github.com/mattermost/mattermost-server/v6/model"
)

// constants for the client
const (
	ReconnectDelay = 5 * time.Second
	commandTimeout = 10 * time.Second
)

// SurveyHandler is the survey interface the commands work with
type SurveyHandler interface {
	CreateSurvey(ctx context.Context, question string, answers []domain.SurveyOption, creatorID string) (*domain.Survey, error)
	ListSurveys(ctx context.Context) ([]*domain.Survey, error)
	SubmitAnswer(ctx context.Context, surveyID, accountID, answer string, answeredAt time.Time) (*domain.ResultView, error)
	FormatSurveyResult(ctx context.Context, surveyID, accountID string) (string, error)
}

// CommandHandler defines a function command handler
type CommandHandler func(args []string, userID, channelID string) (string, error)

// Client provides a client for work with Mattermost API
type Client struct {
	client          *model.Client4
	botUser         *model.User
	handlers        map[string]CommandHandler
	webSocketClient *model.WebSocketClient
	surveyHandler   SurveyHandler
	commandTokens   []string
}

// NewClient creates a new client Mattermost
func NewClient(cfg config.MattermostConfig, handler SurveyHandler) (*Client, error) {
	apiClient := model.NewAPIv4Client(cfg.MattermostBotURL)
	apiClient.SetToken(cfg.MattermostToken)

	botUser, _, err := apiClient.GetMe("")
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}

	slog.Info("Connected as bot user", "username", botUser.Username)

	wsURL := strings.Replace(cfg.MattermostBotURL, "http", "ws", 1)
	wsClient, err := model.NewWebSocketClient4(wsURL, cfg.MattermostToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	client := &Client{
		client:          apiClient,
		botUser:         botUser,
		webSocketClient: wsClient,
		surveyHandler:   handler,
	}

	client.RegisterCommandHandlers()

	return client, nil
}

// RegisterCommandHandlers registers command handlers
func (c *Client) RegisterCommandHandlers() {
	c.handlers = make(map[string]CommandHandler)
	c.RegisterCommandHandler("survey-create", c.handleSurveyCreate)
	c.RegisterCommandHandler("survey-vote", c.handleSurveyVote)
	c.RegisterCommandHandler("survey-results", c.handleSurveyResults)
	c.RegisterCommandHandler("survey-list", c.handleSurveyList)
}

// RegisterCommandHandler registers command handler
func (c *Client) RegisterCommandHandler(command string, handler CommandHandler) {
	slog.Info("Registering handler for command", "command", command)
	c.handlers[command] = handler
}

// RegisterCommands registers bot commands in Mattermost
func (c *Client) RegisterCommands(cfg config.MattermostConfig) error {
	commandsEndpoint := strings.TrimSuffix(cfg.MattermostBotHTTPAddr, "/") + "/commands"

	slog.Info("Registering slash commands", "url", commandsEndpoint)

	commands := []*model.Command{
		{
			Trigger:          "survey-create",
			Method:           "P",
			AutoComplete:     true,
			AutoCompleteDesc: "Create a new survey: /survey-create \"Question\" \"Answer 1\" \"Answer 2\" ...",
			AutoCompleteHint: "\"Question\" \"Answer 1\" \"Answer 2\" ...",
			URL:              commandsEndpoint,
		},
		{
			Trigger:          "survey-vote",
			Method:           "P",
			AutoComplete:     true,
			AutoCompleteDesc: "Answer a survey: /survey-vote survey-id \"Answer\"",
			AutoCompleteHint: "survey-id \"Answer\"",
			URL:              commandsEndpoint,
		},
		{
			Trigger:          "survey-results",
			Method:           "P",
			AutoComplete:     true,
			AutoCompleteDesc: "Show survey results: /survey-results survey-id",
			AutoCompleteHint: "survey-id",
			URL:              commandsEndpoint,
		},
		{
			Trigger:          "survey-list",
			Method:           "P",
			AutoComplete:     true,
			AutoCompleteDesc: "List all surveys",
			AutoCompleteHint: "",
			URL:              commandsEndpoint,
		},
	}

	teams, _, err := c.client.GetTeamsForUser(c.botUser.Id, "")
	if err != nil {
		return fmt.Errorf("failed to get teams: %w", err)
	}

	for _, team := range teams {
		existingCommands, _, err := c.client.ListCommands(team.Id, true)
		if err != nil {
			slog.Error("Failed to get existing commands", "team", team.Name, "error", err)
		}

		registered := make(map[string]bool, len(existingCommands))
		for _, cmd := range existingCommands {
			if !isSurveyCommand(commands, cmd.Trigger) {
				continue
			}
			registered[cmd.Trigger] = true
			c.addCommandToken(cmd.Token)
		}

		for _, cmd := range commands {
			if registered[cmd.Trigger] {
				continue
			}

			teamCmd := *cmd
			teamCmd.TeamId = team.Id
			teamCmd.CreatorId = c.botUser.Id

			created, _, err := c.client.CreateCommand(&teamCmd)
			if err != nil {
				return fmt.Errorf("failed to register command %s: %w", cmd.Trigger, err)
			}
			c.addCommandToken(created.Token)

			slog.Info("Registered command", "trigger", cmd.Trigger, "team", team.Name)
		}
	}
	return nil
}

// CommandTokens returns the tokens Mattermost sends with the bot's slash
// commands, known after RegisterCommands
func (c *Client) CommandTokens() []string {
	return c.commandTokens
}

func (c *Client) addCommandToken(token string) {
	if token != "" {
		c.commandTokens = append(c.commandTokens, token)
	}
}

func isSurveyCommand(commands []*model.Command, trigger string) bool {
	for _, cmd := range commands {
		if cmd.Trigger == trigger {
			return true
		}
	}
	return false
}

// StartListening connects the WebSocket and starts listening for events
func (c *Client) StartListening() error {
	if err := c.webSocketClient.Connect(); err != nil {
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	c.webSocketClient.Listen()
	go c.monitorWebSocket()

	slog.Info("Started listening for WebSocket events")
	return nil
}

// monitorWebSocket handles events and reconnects when the channel closes
func (c *Client) monitorWebSocket() {
	for {
		for event := range c.webSocketClient.EventChannel {
			c.handleEvent(event)
		}

		slog.Warn("WebSocket channel closed, reconnecting...")
		c.reconnectWebSocket()
	}
}

func (c *Client) reconnectWebSocket() {
	for {
		time.Sleep(ReconnectDelay)
		if err := c.webSocketClient.Connect(); err == nil {
			c.webSocketClient.Listen()
			slog.Info("WebSocket reconnected successfully")
			return
		}
		slog.Error("WebSocket reconnect failed, retrying...")
	}
}

// handleEvent handles WebSocket event
func (c *Client) handleEvent(event *model.WebSocketEvent) {
	switch event.EventType() {
	case "slash_command":
		c.handleSlashCommand(event)
	}
}

// handleSlashCommand handles commands
func (c *Client) handleSlashCommand(event *model.WebSocketEvent) {
	data := event.GetData()
	command, ok := data["command"].(string)
	if !ok {
		return
	}

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return
	}

	commandName := strings.TrimPrefix(parts[0], "/")
	handler, exists := c.handlers[commandName]
	if !exists {
		return
	}

	userID, ok := data["user_id"].(string)
	if !ok {
		userID = event.GetBroadcast().UserId
	}

	channelID, ok := data["channel_id"].(string)
	if !ok {
		channelID = event.GetBroadcast().ChannelId
	}

	response, err := handler(parts[1:], userID, channelID)
	if err != nil {
		c.PostMessage(channelID, fmt.Sprintf("Error: %v", err))
		return
	}

	if response != "" {
		c.PostMessage(channelID, response)
	}
}

// handleSurveyCreate handles the creation of a survey
func (c *Client) handleSurveyCreate(args []string, userID, channelID string) (string, error) {
	if len(args) < 3 {
		return "Usage: `/survey-create \"Question\" \"Answer 1\" \"Answer 2\" ...`\nA question " +
			"and at least 2 answers enclosed with \"\" are required.", nil
	}

	answers := make([]domain.SurveyOption, 0, len(args)-1)
	for _, a := range args[1:] {
		answers = append(answers, domain.SurveyOption{Answer: a})
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	survey, err := c.surveyHandler.CreateSurvey(ctx, args[0], answers, userID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSurvey) {
			return fmt.Sprintf("Error: %v", err), nil
		}
		return "", fmt.Errorf("failed to create survey: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Survey Created: %s\n\n**ID:** %s\n\n**Answers:**\n", survey.Question, survey.ID)
	for i, opt := range survey.Answers {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt.Answer)
	}
	fmt.Fprintf(&b, "\nTo vote: `/survey-vote %s \"Answer\"`\nTo see results: `/survey-results %s`", survey.ID, survey.ID)

	return b.String(), nil
}

// handleSurveyVote records the answer of the user and shows the fresh result
func (c *Client) handleSurveyVote(args []string, userID, channelID string) (string, error) {
	if len(args) < 2 {
		return "Usage: `/survey-vote [survey-id] [answer]`", nil
	}

	surveyID := args[0]
	answer := strings.Join(args[1:], " ")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	view, err := c.surveyHandler.SubmitAnswer(ctx, surveyID, userID, answer, time.Now())
	switch {
	case errors.Is(err, service.ErrSurveyNotFound):
		return fmt.Sprintf("Survey **%s** not found.", surveyID), nil
	case errors.Is(err, service.ErrInvalidAnswer):
		return fmt.Sprintf("**%s** is not an answer of survey **%s**.", answer, surveyID), nil
	case err != nil:
		return "", fmt.Errorf("failed to vote: %w", err)
	}

	return fmt.Sprintf("Your answer **%s** to **%s** has been recorded (%d votes in total).",
		answer, view.Question, view.TotalVotes()), nil
}

// handleSurveyResults handles results display of a survey
func (c *Client) handleSurveyResults(args []string, userID, channelID string) (string, error) {
	if len(args) < 1 {
		return "Usage: `/survey-results [survey-id]`", nil
	}

	surveyID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	results, err := c.surveyHandler.FormatSurveyResult(ctx, surveyID, userID)
	if errors.Is(err, service.ErrSurveyNotFound) {
		return fmt.Sprintf("Survey **%s** not found.", surveyID), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get survey results: %w", err)
	}

	return results, nil
}

// handleSurveyList prints list of all surveys
func (c *Client) handleSurveyList(args []string, userID, channelID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	surveys, err := c.surveyHandler.ListSurveys(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list surveys: %w", err)
	}

	if len(surveys) == 0 {
		return "No surveys found.", nil
	}

	var b strings.Builder
	b.WriteString("### Available Surveys\n\n")
	for i, survey := range surveys {
		fmt.Fprintf(&b, "%d. **%s** (ID: `%s`)\n", i+1, survey.Question, survey.ID)
		fmt.Fprintf(&b, "   Answers: %d | Created: %s\n\n", len(survey.Answers), survey.CreatedAt.Format(time.RFC822))
	}

	return b.String(), nil
}

// PostMessage posts message to the channel
func (c *Client) PostMessage(channelID, message string) error {
	post := &model.Post{
		UserId:    c.botUser.Id,
		ChannelId: channelID,
		Message:   message,
	}

	_, _, err := c.client.CreatePost(post)
	if err != nil {
		slog.Error("Failed to post message", "error", err)
		return err
	}

	return nil
}

// Close closes WebSocket connection
func (c *Client) Close() {
	if c.webSocketClient != nil {
		c.webSocketClient.Close()
		slog.Info("WebSocket client closed")
	}

	slog.Info("Mattermost client connections closed")
}

// HandleCommand runs a command received over HTTP
func (c *Client) HandleCommand(command string, args []string, userID, channelID string) (string, error) {
	commandName := strings.TrimPrefix(command, "/")

	handler, exists := c.handlers[commandName]
	if !exists {
		return "", fmt.Errorf("unknown command: %s", commandName)
	}

	return handler(args, userID, channelID)
}
