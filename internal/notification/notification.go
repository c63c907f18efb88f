package notification

import (
	"context"
	"time"
)

// MessageSender represents an interface for sending messages
type MessageSender interface {
	PostMessage(channelID, message string) error
}

// AnswerSubmitted is published after an answer has been stored
type AnswerSubmitted struct {
	SurveyID   string    `json:"surveyId"`
	AccountID  string    `json:"accountId"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// EventPublisher represents an interface for publishing answer events
type EventPublisher interface {
	Publish(ctx context.Context, event AnswerSubmitted) error
}
