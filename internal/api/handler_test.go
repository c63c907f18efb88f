package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hard-gainer/survey-service/internal/config"
	"github.com/hard-gainer/survey-service/internal/db"
	"github.com/hard-gainer/survey-service/internal/model"
	"github.com/hard-gainer/survey-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret       = "test-secret"
	testCommandToken = "command-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCommandHandler struct {
	command   string
	args      []string
	userID    string
	channelID string
	err       error
}

func (f *fakeCommandHandler) HandleCommand(command string, args []string, userID, channelID string) (string, error) {
	f.command = command
	f.args = args
	f.userID = userID
	f.channelID = channelID
	if f.err != nil {
		return "", f.err
	}
	return "done", nil
}

func newTestHandler(t *testing.T) *HTTPHandler {
	t.Helper()
	storage := db.NewMemoryStorage()
	svc := service.NewService(storage, storage, nil, nil)
	return NewHTTPHandler(config.HTTPConfig{APIHTTPAddr: ":0"}, config.AuthConfig{JWTSecret: testSecret}, svc)
}

func token(t *testing.T, accountID, role string) string {
	t.Helper()
	tok, err := SignToken(testSecret, accountID, role)
	require.NoError(t, err)
	return tok
}

func doJSON(t *testing.T, h *HTTPHandler, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	w := httptest.NewRecorder()
	h.Handler().ServeHTTP(w, req)
	return w
}

func createTestSurvey(t *testing.T, h *HTTPHandler) model.Survey {
	t.Helper()

	w := doJSON(t, h, http.MethodPost, "/api/surveys", token(t, "admin-1", RoleAdmin), CreateSurveyRequest{
		Question: "Which one?",
		Answers:  []model.SurveyOption{{Answer: "a", Image: "a.png"}, {Answer: "b"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var survey model.Survey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &survey))
	return survey
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w := doJSON(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodGet, "/api/surveys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/surveys", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := SignToken("other-secret", "account-1", RoleAdmin)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/api/surveys", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/surveys", token(t, "", ""), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEmptySecretRejectsEveryToken(t *testing.T) {
	storage := db.NewMemoryStorage()
	svc := service.NewService(storage, storage, nil, nil)
	h := NewHTTPHandler(config.HTTPConfig{APIHTTPAddr: ":0"}, config.AuthConfig{JWTSecret: ""}, svc)

	_, err := SignToken("", "attacker", RoleAdmin)
	require.ErrorIs(t, err, ErrEmptySecret)

	claims := AccountClaims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "attacker"}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte{})
	require.NoError(t, err)

	w := doJSON(t, h, http.MethodPost, "/api/surveys", forged, CreateSurveyRequest{
		Question: "Which one?",
		Answers:  []model.SurveyOption{{Answer: "a"}, {Answer: "b"}},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/surveys", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	surveys, err := storage.ListSurveys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, surveys)
}

func TestCreateSurveyRequiresAdmin(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/api/surveys", token(t, "account-1", ""), CreateSurveyRequest{
		Question: "Which one?",
		Answers:  []model.SurveyOption{{Answer: "a"}, {Answer: "b"}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateSurveyValidation(t *testing.T) {
	h := newTestHandler(t)
	admin := token(t, "admin-1", RoleAdmin)

	w := doJSON(t, h, http.MethodPost, "/api/surveys", admin, map[string]interface{}{"question": "Q"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/surveys", admin, CreateSurveyRequest{
		Question: "Q",
		Answers:  []model.SurveyOption{{Answer: "a"}, {Answer: "a"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAndListSurveys(t *testing.T) {
	h := newTestHandler(t)
	survey := createTestSurvey(t, h)

	assert.NotEmpty(t, survey.ID)
	assert.Equal(t, "admin-1", survey.CreatedBy)

	w := doJSON(t, h, http.MethodGet, "/api/surveys", token(t, "account-1", ""), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var surveys []model.Survey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &surveys))
	require.Len(t, surveys, 1)
	assert.Equal(t, survey.ID, surveys[0].ID)
}

func TestSaveAndLoadSurveyResult(t *testing.T) {
	h := newTestHandler(t)
	survey := createTestSurvey(t, h)
	path := "/api/surveys/" + survey.ID + "/results"

	w := doJSON(t, h, http.MethodPut, path, token(t, "account-1", ""), SaveSurveyResultRequest{Answer: "a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = doJSON(t, h, http.MethodPut, path, token(t, "account-2", ""), SaveSurveyResultRequest{Answer: "a"})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodPut, path, token(t, "account-3", ""), SaveSurveyResultRequest{Answer: "b"})
	require.Equal(t, http.StatusOK, w.Code)

	var view model.ResultView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, survey.ID, view.SurveyID)
	require.Len(t, view.Answers, 2)
	assert.Equal(t, model.ResultAnswer{Answer: "a", Image: "a.png", Count: 2, Percent: 67}, view.Answers[0])
	assert.Equal(t, model.ResultAnswer{Answer: "b", Count: 1, Percent: 33, IsCurrentAccountAnswer: true}, view.Answers[1])

	w = doJSON(t, h, http.MethodGet, path, token(t, "account-1", ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.True(t, view.Answers[0].IsCurrentAccountAnswer)
	assert.False(t, view.Answers[1].IsCurrentAccountAnswer)
}

func TestSurveyResultErrors(t *testing.T) {
	h := newTestHandler(t)
	survey := createTestSurvey(t, h)
	user := token(t, "account-1", "")

	w := doJSON(t, h, http.MethodGet, "/api/surveys/missing-id/results", user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodPut, "/api/surveys/missing-id/results", user, SaveSurveyResultRequest{Answer: "a"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodPut, "/api/surveys/"+survey.ID+"/results", user, SaveSurveyResultRequest{Answer: "c"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPut, "/api/surveys/"+survey.ID+"/results", user, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommandsDisabled(t *testing.T) {
	h := newTestHandler(t)
	w := doJSON(t, h, http.MethodPost, "/commands", "", CommandRequest{Command: "/survey-list"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCommandFromForm(t *testing.T) {
	h := newTestHandler(t)
	commands := &fakeCommandHandler{}
	h.SetCommandHandler(commands, testCommandToken)

	form := url.Values{}
	form.Set("token", testCommandToken)
	form.Set("command", "/survey-create")
	form.Set("text", `"Best language?" "Go" "Rust"`)
	form.Set("user_id", "user-1")
	form.Set("channel_id", "channel-1")

	req := httptest.NewRequest(http.MethodPost, "/commands", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "survey-create", commands.command)
	assert.Equal(t, []string{"Best language?", "Go", "Rust"}, commands.args)
	assert.Equal(t, "user-1", commands.userID)
	assert.Equal(t, "channel-1", commands.channelID)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CommandResponse{ResponseType: "in_channel", Text: "done"}, resp)
}

func TestCommandErrorIsEphemeral(t *testing.T) {
	h := newTestHandler(t)
	h.SetCommandHandler(&fakeCommandHandler{err: errors.New("unknown command: nope")}, testCommandToken)

	w := doJSON(t, h, http.MethodPost, "/commands", "", CommandRequest{
		Command: "nope",
		Args:    []string{"x"},
		UserID:  "user-1",
		Token:   testCommandToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ephemeral", resp.ResponseType)
	assert.Equal(t, "Error: unknown command: nope", resp.Text)
}

func TestCommandRequiresToken(t *testing.T) {
	h := newTestHandler(t)
	commands := &fakeCommandHandler{}
	h.SetCommandHandler(commands, testCommandToken)

	for _, tok := range []string{"", "wrong-token"} {
		w := doJSON(t, h, http.MethodPost, "/commands", "", CommandRequest{
			Command: "/survey-list",
			UserID:  "user-1",
			Token:   tok,
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "token %q", tok)
	}
	assert.Empty(t, commands.command)
}

func TestCommandWithoutTokensConfigured(t *testing.T) {
	h := newTestHandler(t)
	commands := &fakeCommandHandler{}
	h.SetCommandHandler(commands)

	w := doJSON(t, h, http.MethodPost, "/commands", "", CommandRequest{Command: "/survey-list", UserID: "user-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, commands.command)
}

func TestCommandRequiresUserID(t *testing.T) {
	h := newTestHandler(t)
	commands := &fakeCommandHandler{}
	h.SetCommandHandler(commands, testCommandToken)

	w := doJSON(t, h, http.MethodPost, "/commands", "", CommandRequest{
		Command: "/survey-vote",
		Args:    []string{"survey-1", "a"},
		Token:   testCommandToken,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, commands.command)
}

func TestParseCommandArgs(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"", nil},
		{"abc", []string{"abc"}},
		{`id "Option one"`, []string{"id", "Option one"}},
		{`"Question?" "A" "B"`, []string{"Question?", "A", "B"}},
		{"  a \t b  ", []string{"a", "b"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCommandArgs(tt.text), "parseCommandArgs(%q)", tt.text)
	}
}
