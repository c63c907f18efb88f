package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hard-gainer/survey-service/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	surveysCollection       = "surveys"
	surveyResultsCollection = "surveyResults"
)

type surveyDocument struct {
	ID        string                 `bson:"_id"`
	Question  string                 `bson:"question"`
	Answers   []surveyAnswerDocument `bson:"answers"`
	CreatedBy string                 `bson:"createdBy"`
	CreatedAt time.Time              `bson:"date"`
}

type surveyAnswerDocument struct {
	Answer string `bson:"answer"`
	Image  string `bson:"image,omitempty"`
}

type answerDocument struct {
	SurveyID   string    `bson:"surveyId"`
	AccountID  string    `bson:"accountId"`
	Answer     string    `bson:"answer"`
	AnsweredAt time.Time `bson:"date"`
}

// MongoStorage implements the Storage interface using MongoDB
type MongoStorage struct {
	client  *mongo.Client
	surveys *mongo.Collection
	results *mongo.Collection
}

// NewMongoClient connects to MongoDB and checks the connection.
// The driver reconnects on its own, retryable reads and writes are enabled.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetRetryReads(true).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// NewMongoStorage creates the storage on top of a connected client and makes
// sure the unique {surveyId, accountId} index exists. The storage owns the
// client from now on and disconnects it on Close.
func NewMongoStorage(ctx context.Context, client *mongo.Client, database string) (*MongoStorage, error) {
	slog.Info("Preparing MongoDB storage", "database", database)

	// every read goes to the primary with majority concern so a finished
	// upsert is always visible to the next read
	collOpts := options.Collection().
		SetReadPreference(readpref.Primary()).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())

	db := client.Database(database)
	s := &MongoStorage{
		client:  client,
		surveys: db.Collection(surveysCollection, collOpts),
		results: db.Collection(surveyResultsCollection, collOpts),
	}

	_, err := s.results.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "surveyId", Value: 1}, {Key: "accountId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("survey_account_unique"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create survey results index: %w", err)
	}

	return s, nil
}

// CreateSurvey saves a new survey in MongoDB
func (s *MongoStorage) CreateSurvey(ctx context.Context, survey *model.Survey) error {
	slog.Info("Storing survey in MongoDB", "survey_id", survey.ID)

	doc := surveyDocument{
		ID:        survey.ID,
		Question:  survey.Question,
		Answers:   make([]surveyAnswerDocument, 0, len(survey.Answers)),
		CreatedBy: survey.CreatedBy,
		CreatedAt: survey.CreatedAt,
	}
	for _, opt := range survey.Answers {
		doc.Answers = append(doc.Answers, surveyAnswerDocument{Answer: opt.Answer, Image: opt.Image})
	}

	if _, err := s.surveys.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert survey: %w", err)
	}
	return nil
}

// GetSurvey retrieves a survey from MongoDB
func (s *MongoStorage) GetSurvey(ctx context.Context, id string) (*model.Survey, error) {
	var doc surveyDocument
	err := s.surveys.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find survey error: %w", err)
	}
	return doc.toModel(), nil
}

// ListSurveys lists all surveys, newest first
func (s *MongoStorage) ListSurveys(ctx context.Context) ([]*model.Survey, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.surveys.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find surveys error: %w", err)
	}
	defer cur.Close(ctx)

	var docs []surveyDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode surveys error: %w", err)
	}

	surveys := make([]*model.Survey, 0, len(docs))
	for i := range docs {
		surveys = append(surveys, docs[i].toModel())
	}
	return surveys, nil
}

// UpsertAnswer replaces or inserts the answer of an account with a single
// findOneAndUpdate. Two concurrent first answers can race on the unique index,
// the loser gets a duplicate key error and is retried once as an update.
func (s *MongoStorage) UpsertAnswer(ctx context.Context, rec *model.AnswerRecord) error {
	slog.Debug("Upserting answer in MongoDB", "survey_id", rec.SurveyID, "account_id", rec.AccountID)

	filter := bson.M{"surveyId": rec.SurveyID, "accountId": rec.AccountID}
	update := bson.M{"$set": bson.M{"answer": rec.Answer, "date": rec.AnsweredAt}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc answerDocument
	err := s.results.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		err = s.results.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}
	return nil
}

// ListAnswers reads every answer of a survey
func (s *MongoStorage) ListAnswers(ctx context.Context, surveyID string) ([]model.AnswerRecord, error) {
	cur, err := s.results.Find(ctx, bson.M{"surveyId": surveyID})
	if err != nil {
		return nil, fmt.Errorf("mongodb find answers error: %w", err)
	}
	defer cur.Close(ctx)

	var docs []answerDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode answers error: %w", err)
	}

	records := make([]model.AnswerRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, model.AnswerRecord{
			SurveyID:   doc.SurveyID,
			AccountID:  doc.AccountID,
			Answer:     doc.Answer,
			AnsweredAt: doc.AnsweredAt.UTC(),
		})
	}
	return records, nil
}

// Close disconnects the MongoDB client
func (s *MongoStorage) Close() error {
	slog.Info("Closing MongoDB connection")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d *surveyDocument) toModel() *model.Survey {
	survey := &model.Survey{
		ID:        d.ID,
		Question:  d.Question,
		Answers:   make([]model.SurveyOption, 0, len(d.Answers)),
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt.UTC(),
	}
	for _, a := range d.Answers {
		survey.Answers = append(survey.Answers, model.SurveyOption{Answer: a.Answer, Image: a.Image})
	}
	return survey
}
