package db

import (
	"context"
	"errors"

	"github.com/hard-gainer/survey-service/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
)

// SurveyStorage defines the methods for working with surveys
type SurveyStorage interface {
	// CreateSurvey saves a new survey
	CreateSurvey(ctx context.Context, survey *model.Survey) error
	// GetSurvey retrieves a survey, ErrNotFound if there is none
	GetSurvey(ctx context.Context, id string) (*model.Survey, error)
	// ListSurveys lists all surveys, newest first
	ListSurveys(ctx context.Context) ([]*model.Survey, error)
}

// AnswerLedger keeps the current answer of every account on every survey.
//
// UpsertAnswer must replace the record of (SurveyID, AccountID) or insert it in
// a single atomic step, so that one account never has two records for the same
// survey. ListAnswers must observe every UpsertAnswer that returned before it
// was called.
type AnswerLedger interface {
	UpsertAnswer(ctx context.Context, rec *model.AnswerRecord) error
	ListAnswers(ctx context.Context, surveyID string) ([]model.AnswerRecord, error)
}

// Storage is a backend holding both surveys and answers
type Storage interface {
	SurveyStorage
	AnswerLedger
	// Close releases the backend connection
	Close() error
}
