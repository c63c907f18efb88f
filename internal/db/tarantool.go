package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hard-gainer/survey-service/internal/model"
	"github.com/tarantool/go-tarantool"
	pool "github.com/tarantool/go-tarantool/connection_pool"
)

// space and index names, see tarantool/init.lua
const (
	surveysSpace       = "surveys"
	surveyResultsSpace = "survey_results"
	primaryIndex       = "primary"
	surveyIndex        = "survey"

	surveysPageSize = 1000
)

// TarantoolStorage implements the Storage interface using Tarantool
type TarantoolStorage struct {
	connPool *pool.ConnectionPool
}

// NewTarantoolStorage creates a new Tarantool storage instance with connection pool
func NewTarantoolStorage(addr string, opts tarantool.Opts) (*TarantoolStorage, error) {
	slog.Info("Connecting to Tarantool", "addr", addr)

	poolOpts := pool.OptsPool{
		CheckTimeout: 1 * time.Second,
	}

	connPool, err := pool.ConnectWithOpts([]string{addr}, opts, poolOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for _, space := range []string{surveysSpace, surveyResultsSpace} {
		if _, err := connPool.Call("box.space."+space+":len", []interface{}{}, pool.ANY); err != nil {
			connPool.Close()
			return nil, fmt.Errorf("failed to verify %s space: %w", space, err)
		}
	}

	slog.Info("Successfully connected to Tarantool")
	return &TarantoolStorage{
		connPool: connPool,
	}, nil
}

// CreateSurvey saves a new survey in Tarantool
func (s *TarantoolStorage) CreateSurvey(ctx context.Context, survey *model.Survey) error {
	slog.Info("Storing survey in Tarantool", "survey_id", survey.ID)

	answers := make([]interface{}, 0, len(survey.Answers))
	for _, opt := range survey.Answers {
		answers = append(answers, []interface{}{opt.Answer, opt.Image})
	}

	_, err := s.connPool.Insert(
		surveysSpace,
		[]interface{}{
			survey.ID,
			survey.Question,
			answers,
			survey.CreatedBy,
			survey.CreatedAt.UnixNano(),
		},
		pool.RW,
	)
	if err != nil {
		return fmt.Errorf("failed to insert survey: %w", err)
	}

	return nil
}

// GetSurvey retrieves a survey from Tarantool
func (s *TarantoolStorage) GetSurvey(ctx context.Context, id string) (*model.Survey, error) {
	slog.Debug("Retrieving survey from Tarantool", "survey_id", id)

	resp, err := s.connPool.Select(surveysSpace, primaryIndex, 0, 1, tarantool.IterEq, []interface{}{id}, pool.RW)
	if err != nil {
		return nil, fmt.Errorf("tarantool select error: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrNotFound
	}

	survey, err := tupleToSurvey(resp.Data[0])
	if err != nil {
		return nil, err
	}
	return survey, nil
}

// ListSurveys lists all surveys in Tarantool
func (s *TarantoolStorage) ListSurveys(ctx context.Context) ([]*model.Survey, error) {
	slog.Debug("Listing all surveys from Tarantool")

	tuples, err := selectPages(surveysPageSize, func(after []interface{}) ([]interface{}, error) {
		var iter uint32 = tarantool.IterAll
		if len(after) > 0 {
			iter = tarantool.IterGt
		}
		resp, err := s.connPool.Select(surveysSpace, primaryIndex, 0, surveysPageSize, iter, after, pool.ANY)
		if err != nil {
			return nil, err
		}
		return resp.Data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tarantool select error: %w", err)
	}

	surveys := make([]*model.Survey, 0, len(tuples))
	for _, tuple := range tuples {
		survey, err := tupleToSurvey(tuple)
		if err != nil {
			slog.Warn("Invalid survey tuple in Tarantool response", "data", tuple, "error", err)
			continue
		}
		surveys = append(surveys, survey)
	}

	sortNewestFirst(surveys)
	return surveys, nil
}

// selectPages walks the primary index page by page. fetch gets the key of
// the last tuple seen, empty for the first page.
func selectPages(pageSize int, fetch func(after []interface{}) ([]interface{}, error)) ([]interface{}, error) {
	var all []interface{}
	after := []interface{}{}

	for {
		page, err := fetch(after)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) < pageSize {
			return all, nil
		}

		last, ok := page[len(page)-1].([]interface{})
		if !ok || len(last) == 0 {
			return nil, fmt.Errorf("unexpected tuple %v", page[len(page)-1])
		}
		after = []interface{}{last[0]}
	}
}

// UpsertAnswer stores the answer of an account. Replace on the primary
// {survey_id, account_id} index is a single atomic request.
func (s *TarantoolStorage) UpsertAnswer(ctx context.Context, rec *model.AnswerRecord) error {
	slog.Debug("Replacing answer in Tarantool", "survey_id", rec.SurveyID, "account_id", rec.AccountID)

	_, err := s.connPool.Replace(
		surveyResultsSpace,
		[]interface{}{
			rec.SurveyID,
			rec.AccountID,
			rec.Answer,
			rec.AnsweredAt.UnixNano(),
		},
		pool.RW,
	)
	if err != nil {
		return fmt.Errorf("failed to replace answer: %w", err)
	}

	return nil
}

// ListAnswers reads every answer of a survey. It reads from the master, the
// same instance UpsertAnswer writes to, so a finished upsert is always seen.
func (s *TarantoolStorage) ListAnswers(ctx context.Context, surveyID string) ([]model.AnswerRecord, error) {
	slog.Debug("Listing answers from Tarantool", "survey_id", surveyID)

	resp, err := s.connPool.Select(surveyResultsSpace, surveyIndex, 0, 1<<31-1, tarantool.IterEq, []interface{}{surveyID}, pool.RW)
	if err != nil {
		return nil, fmt.Errorf("tarantool select error: %w", err)
	}

	records := make([]model.AnswerRecord, 0, len(resp.Data))
	for _, tuple := range resp.Data {
		data, ok := tuple.([]interface{})
		if !ok || len(data) < 4 {
			slog.Warn("Invalid answer tuple in Tarantool response", "data", tuple)
			continue
		}

		records = append(records, model.AnswerRecord{
			SurveyID:   toString(data[0]),
			AccountID:  toString(data[1]),
			Answer:     toString(data[2]),
			AnsweredAt: time.Unix(0, toInt64(data[3])).UTC(),
		})
	}

	return records, nil
}

// Close closes the Tarantool connection pool
func (s *TarantoolStorage) Close() error {
	slog.Info("Closing Tarantool connection pool")
	errs := s.connPool.Close()
	if len(errs) > 0 {
		return fmt.Errorf("errors closing Tarantool pool: %v", errs)
	}
	return nil
}

// tupleToSurvey converts a surveys space tuple to a survey
func tupleToSurvey(tuple interface{}) (*model.Survey, error) {
	data, ok := tuple.([]interface{})
	if !ok || len(data) < 5 {
		return nil, fmt.Errorf("invalid Tarantool response")
	}

	return &model.Survey{
		ID:        toString(data[0]),
		Question:  toString(data[1]),
		Answers:   convertToOptions(data[2]),
		CreatedBy: toString(data[3]),
		CreatedAt: time.Unix(0, toInt64(data[4])).UTC(),
	}, nil
}

// convertToOptions is a helper function for converting [[answer, image], ...] to options
func convertToOptions(value interface{}) []model.SurveyOption {
	slice, ok := value.([]interface{})
	if !ok {
		return nil
	}
	result := make([]model.SurveyOption, 0, len(slice))
	for _, v := range slice {
		pair, ok := v.([]interface{})
		if !ok || len(pair) == 0 {
			continue
		}
		opt := model.SurveyOption{Answer: toString(pair[0])}
		if len(pair) > 1 {
			opt.Image = toString(pair[1])
		}
		result = append(result, opt)
	}
	return result
}

func toString(value interface{}) string {
	s, _ := value.(string)
	return s
}

// toInt64 accepts any integer msgpack may decode to
func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	case uint:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	case int16:
		return int64(v)
	case uint16:
		return int64(v)
	case int8:
		return int64(v)
	case uint8:
		return int64(v)
	default:
		return 0
	}
}
