package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hard-gainer/survey-service/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type surveyRow struct {
	ID        string            `gorm:"column:id;primaryKey"`
	Question  string            `gorm:"column:question;not null"`
	CreatedBy string            `gorm:"column:created_by"`
	CreatedAt time.Time         `gorm:"column:created_at;not null;index"`
	Options   []surveyOptionRow `gorm:"foreignKey:SurveyID;constraint:OnDelete:CASCADE"`
}

func (surveyRow) TableName() string {
	return "surveys"
}

type surveyOptionRow struct {
	ID       uint   `gorm:"column:id;primaryKey"`
	SurveyID string `gorm:"column:survey_id;not null;uniqueIndex:idx_survey_option_answer"`
	Position int    `gorm:"column:position;not null"`
	Answer   string `gorm:"column:answer;not null;uniqueIndex:idx_survey_option_answer"`
	Image    string `gorm:"column:image"`
}

func (surveyOptionRow) TableName() string {
	return "survey_options"
}

// answerRow has the composite primary key (survey_id, account_id), which is
// what ON CONFLICT targets.
type answerRow struct {
	SurveyID   string    `gorm:"column:survey_id;primaryKey"`
	AccountID  string    `gorm:"column:account_id;primaryKey"`
	Answer     string    `gorm:"column:answer;not null"`
	AnsweredAt time.Time `gorm:"column:answered_at;not null"`
}

func (answerRow) TableName() string {
	return "survey_results"
}

// PostgresStorage implements the Storage interface using PostgreSQL through gorm
type PostgresStorage struct {
	db *gorm.DB
}

// NewPostgresStorage opens the database and migrates the schema
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	slog.Info("Connecting to PostgreSQL")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&surveyRow{}, &surveyOptionRow{}, &answerRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// CreateSurvey saves a survey with its options in one transaction
func (s *PostgresStorage) CreateSurvey(ctx context.Context, survey *model.Survey) error {
	slog.Info("Storing survey in PostgreSQL", "survey_id", survey.ID)

	row := surveyRow{
		ID:        survey.ID,
		Question:  survey.Question,
		CreatedBy: survey.CreatedBy,
		CreatedAt: survey.CreatedAt,
		Options:   make([]surveyOptionRow, 0, len(survey.Answers)),
	}
	for i, opt := range survey.Answers {
		row.Options = append(row.Options, surveyOptionRow{
			SurveyID: survey.ID,
			Position: i,
			Answer:   opt.Answer,
			Image:    opt.Image,
		})
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert survey: %w", err)
	}
	return nil
}

// GetSurvey retrieves a survey with its options in declared order
func (s *PostgresStorage) GetSurvey(ctx context.Context, id string) (*model.Survey, error) {
	var row surveyRow
	err := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres select survey error: %w", err)
	}
	return row.toModel(), nil
}

// ListSurveys lists all surveys, newest first
func (s *PostgresStorage) ListSurveys(ctx context.Context) ([]*model.Survey, error) {
	var rows []surveyRow
	err := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("created_at DESC").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres select surveys error: %w", err)
	}

	surveys := make([]*model.Survey, 0, len(rows))
	for i := range rows {
		surveys = append(surveys, rows[i].toModel())
	}
	return surveys, nil
}

// UpsertAnswer runs a single INSERT ... ON CONFLICT DO UPDATE
func (s *PostgresStorage) UpsertAnswer(ctx context.Context, rec *model.AnswerRecord) error {
	slog.Debug("Upserting answer in PostgreSQL", "survey_id", rec.SurveyID, "account_id", rec.AccountID)

	row := answerRow{
		SurveyID:   rec.SurveyID,
		AccountID:  rec.AccountID,
		Answer:     rec.Answer,
		AnsweredAt: rec.AnsweredAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "survey_id"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"answer", "answered_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}
	return nil
}

// ListAnswers reads every answer of a survey
func (s *PostgresStorage) ListAnswers(ctx context.Context, surveyID string) ([]model.AnswerRecord, error) {
	var rows []answerRow
	if err := s.db.WithContext(ctx).Where("survey_id = ?", surveyID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres select answers error: %w", err)
	}

	records := make([]model.AnswerRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, model.AnswerRecord{
			SurveyID:   row.SurveyID,
			AccountID:  row.AccountID,
			Answer:     row.Answer,
			AnsweredAt: row.AnsweredAt.UTC(),
		})
	}
	return records, nil
}

// Close closes the underlying sql.DB
func (s *PostgresStorage) Close() error {
	slog.Info("Closing PostgreSQL connection")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *surveyRow) toModel() *model.Survey {
	survey := &model.Survey{
		ID:        r.ID,
		Question:  r.Question,
		Answers:   make([]model.SurveyOption, 0, len(r.Options)),
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(),
	}
	for _, opt := range r.Options {
		survey.Answers = append(survey.Answers, model.SurveyOption{Answer: opt.Answer, Image: opt.Image})
	}
	return survey
}
