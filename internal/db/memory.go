package db

import (
	"context"
	"sort"
	"sync"

	"github.com/hard-gainer/survey-service/internal/model"
)

type answerKey struct {
	surveyID  string
	accountID string
}

// MemoryStorage implements Storage in process memory. It is meant for tests
// and local runs, nothing survives a restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	surveys map[string]model.Survey
	answers map[answerKey]model.AnswerRecord
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		surveys: make(map[string]model.Survey),
		answers: make(map[answerKey]model.AnswerRecord),
	}
}

// CreateSurvey stores a copy of survey
func (s *MemoryStorage) CreateSurvey(ctx context.Context, survey *model.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *survey
	stored.Answers = append([]model.SurveyOption(nil), survey.Answers...)
	s.surveys[survey.ID] = stored
	return nil
}

// GetSurvey returns a survey by id or ErrNotFound
func (s *MemoryStorage) GetSurvey(ctx context.Context, id string) (*model.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	survey, ok := s.surveys[id]
	if !ok {
		return nil, ErrNotFound
	}
	survey.Answers = append([]model.SurveyOption(nil), survey.Answers...)
	return &survey, nil
}

// ListSurveys returns all surveys, newest first
func (s *MemoryStorage) ListSurveys(ctx context.Context) ([]*model.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	surveys := make([]*model.Survey, 0, len(s.surveys))
	for _, survey := range s.surveys {
		survey.Answers = append([]model.SurveyOption(nil), survey.Answers...)
		surveys = append(surveys, &survey)
	}
	sortNewestFirst(surveys)
	return surveys, nil
}

// UpsertAnswer replaces the answer of the account on the survey
func (s *MemoryStorage) UpsertAnswer(ctx context.Context, rec *model.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.answers[answerKey{surveyID: rec.SurveyID, accountID: rec.AccountID}] = *rec
	return nil
}

// ListAnswers returns the current answers of a survey
func (s *MemoryStorage) ListAnswers(ctx context.Context, surveyID string) ([]model.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.AnswerRecord, 0)
	for key, rec := range s.answers {
		if key.surveyID == surveyID {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Close is a no-op
func (s *MemoryStorage) Close() error {
	return nil
}

// sortNewestFirst orders surveys by creation time, newest first, ties by id
func sortNewestFirst(surveys []*model.Survey) {
	sort.Slice(surveys, func(i, j int) bool {
		if surveys[i].CreatedAt.Equal(surveys[j].CreatedAt) {
			return surveys[i].ID < surveys[j].ID
		}
		return surveys[i].CreatedAt.After(surveys[j].CreatedAt)
	})
}
