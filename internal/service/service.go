package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hard-gainer/survey-service/internal/db"
	"github.com/hard-gainer/survey-service/internal/model"
	"github.com/hard-gainer/survey-service/internal/notification"
	"github.com/hard-gainer/survey-service/internal/result"
)

// service errors
var (
	ErrSurveyNotFound     = errors.New("survey not found")
	ErrInvalidAnswer      = errors.New("invalid answer")
	ErrInvalidSurvey      = errors.New("invalid survey")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Service represents service layer
type Service struct {
	surveys  db.SurveyStorage
	ledger   db.AnswerLedger
	notifier notification.MessageSender
	events   notification.EventPublisher
	now      func() time.Time
}

// NewService creates an instance of service. notifier and events may be nil.
func NewService(surveys db.SurveyStorage, ledger db.AnswerLedger, notifier notification.MessageSender, events notification.EventPublisher) *Service {
	return &Service{
		surveys:  surveys,
		ledger:   ledger,
		notifier: notifier,
		events:   events,
		now:      time.Now,
	}
}

// SetNotifier sets the notifier once the Mattermost client is connected
func (s *Service) SetNotifier(notifier notification.MessageSender) {
	s.notifier = notifier
}

// NotifyChannel sends a message to the channel if a notifier is configured
func (s *Service) NotifyChannel(channelID, message string) error {
	if s.notifier == nil {
		slog.Warn("Notifier not configured, message not sent", "channel_id", channelID)
		return nil
	}

	return s.notifier.PostMessage(channelID, message)
}

// CreateSurvey creates a new survey
func (s *Service) CreateSurvey(ctx context.Context, question string, answers []model.SurveyOption, creatorID string) (*model.Survey, error) {
	slog.Info("Creating survey", "question", question, "answers_count", len(answers), "creator", creatorID)

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidSurvey)
	}

	if len(answers) < 2 {
		return nil, fmt.Errorf("%w: survey must have at least two answers", ErrInvalidSurvey)
	}

	options := make([]model.SurveyOption, 0, len(answers))
	seen := make(map[string]bool, len(answers))
	for _, a := range answers {
		answer := strings.TrimSpace(a.Answer)
		if answer == "" {
			return nil, fmt.Errorf("%w: empty answer", ErrInvalidSurvey)
		}
		if seen[answer] {
			return nil, fmt.Errorf("%w: duplicate answer %q", ErrInvalidSurvey, answer)
		}
		seen[answer] = true
		options = append(options, model.SurveyOption{Answer: answer, Image: strings.TrimSpace(a.Image)})
	}

	survey := &model.Survey{
		ID:        uuid.New().String(),
		Question:  question,
		Answers:   options,
		CreatedBy: creatorID,
		CreatedAt: s.now().UTC(),
	}

	if err := s.surveys.CreateSurvey(ctx, survey); err != nil {
		slog.Error("Failed to create survey", "error", err)
		return nil, fmt.Errorf("%w: failed to create survey: %w", ErrStorageUnavailable, err)
	}

	slog.Info("Survey created successfully", "survey_id", survey.ID)
	return survey, nil
}

// GetSurvey returns the survey by ID
func (s *Service) GetSurvey(ctx context.Context, surveyID string) (*model.Survey, error) {
	slog.Info("Getting survey", "survey_id", surveyID)

	survey, err := s.surveys.GetSurvey(ctx, surveyID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			slog.Info("Survey not found", "survey_id", surveyID)
			return nil, ErrSurveyNotFound
		}
		slog.Error("Failed to get survey", "survey_id", surveyID, "error", err)
		return nil, fmt.Errorf("%w: failed to get survey: %w", ErrStorageUnavailable, err)
	}

	return survey, nil
}

// ListSurveys returns all surveys, newest first
func (s *Service) ListSurveys(ctx context.Context) ([]*model.Survey, error) {
	slog.Info("Listing all surveys")

	surveys, err := s.surveys.ListSurveys(ctx)
	if err != nil {
		slog.Error("Failed to list surveys", "error", err)
		return nil, fmt.Errorf("%w: failed to list surveys: %w", ErrStorageUnavailable, err)
	}

	slog.Info("Surveys retrieved successfully", "count", len(surveys))
	return surveys, nil
}

// SubmitAnswer records answer as the current answer of accountID on the survey,
// replacing a previous one, and returns the fresh result view. Nothing is
// written when the survey does not exist or answer is not one of its options.
func (s *Service) SubmitAnswer(ctx context.Context, surveyID, accountID, answer string, answeredAt time.Time) (*model.ResultView, error) {
	slog.Info("Submitting answer", "survey_id", surveyID, "account_id", accountID, "answer", answer)

	survey, err := s.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	if !survey.HasAnswer(answer) {
		slog.Info("Invalid answer selected", "survey_id", surveyID, "answer", answer, "account_id", accountID)
		return nil, ErrInvalidAnswer
	}

	rec := &model.AnswerRecord{
		SurveyID:   surveyID,
		AccountID:  accountID,
		Answer:     answer,
		AnsweredAt: answeredAt.UTC(),
	}

	if err := s.ledger.UpsertAnswer(ctx, rec); err != nil {
		slog.Error("Failed to store answer", "survey_id", surveyID, "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: failed to store answer: %w", ErrStorageUnavailable, err)
	}

	s.publish(ctx, rec)

	slog.Info("Answer stored successfully", "survey_id", surveyID, "account_id", accountID, "answer", answer)
	return s.aggregate(ctx, survey, accountID)
}

// GetSurveyResult returns the result view of a survey for accountID
func (s *Service) GetSurveyResult(ctx context.Context, surveyID, accountID string) (*model.ResultView, error) {
	slog.Info("Getting survey result", "survey_id", surveyID, "account_id", accountID)

	survey, err := s.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	return s.aggregate(ctx, survey, accountID)
}

// FormatSurveyResult formats the survey result as Markdown
func (s *Service) FormatSurveyResult(ctx context.Context, surveyID, accountID string) (string, error) {
	slog.Info("Formatting survey result", "survey_id", surveyID)

	view, err := s.GetSurveyResult(ctx, surveyID, accountID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Survey: %s\n\n", view.Question)
	fmt.Fprintf(&b, "**Total votes: %d**\n\n", view.TotalVotes())
	b.WriteString("#### Results:\n")
	for _, a := range view.Answers {
		mark := ""
		if a.IsCurrentAccountAnswer {
			mark = " :white_check_mark:"
		}
		fmt.Fprintf(&b, "- **%s**: %d votes (%d%%)%s\n", a.Answer, a.Count, a.Percent, mark)
	}

	return b.String(), nil
}

func (s *Service) aggregate(ctx context.Context, survey *model.Survey, accountID string) (*model.ResultView, error) {
	records, err := s.ledger.ListAnswers(ctx, survey.ID)
	if err != nil {
		slog.Error("Failed to list answers", "survey_id", survey.ID, "error", err)
		return nil, fmt.Errorf("%w: failed to list answers: %w", ErrStorageUnavailable, err)
	}

	view := result.Tally(*survey, records, accountID, s.now().UTC())

	slog.Info("Result calculated", "survey_id", survey.ID, "total_votes", view.TotalVotes())
	return &view, nil
}

// publish sends the event if a publisher is configured. The answer is already
// stored, so a failure is only logged.
func (s *Service) publish(ctx context.Context, rec *model.AnswerRecord) {
	if s.events == nil {
		return
	}

	err := s.events.Publish(ctx, notification.AnswerSubmitted{
		SurveyID:   rec.SurveyID,
		AccountID:  rec.AccountID,
		Answer:     rec.Answer,
		AnsweredAt: rec.AnsweredAt,
	})
	if err != nil {
		slog.Error("Failed to publish answer event", "survey_id", rec.SurveyID, "account_id", rec.AccountID, "error", err)
	}
}
