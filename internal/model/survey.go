package model

import "time"

// SurveyOption is one answer a survey offers
type SurveyOption struct {
	Answer string `json:"answer"`
	Image  string `json:"image,omitempty"`
}

// Survey is a question with a fixed ordered list of options
type Survey struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Answers   []SurveyOption `json:"answers"`
	CreatedBy string         `json:"createdBy"`
	CreatedAt time.Time      `json:"createdAt"`
}

// HasAnswer reports whether answer is one of the survey options
func (s *Survey) HasAnswer(answer string) bool {
	for _, opt := range s.Answers {
		if opt.Answer == answer {
			return true
		}
	}
	return false
}

// AnswerRecord is the current answer of one account on one survey
type AnswerRecord struct {
	SurveyID   string    `json:"surveyId"`
	AccountID  string    `json:"accountId"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// ResultAnswer is the tally of one option in a ResultView
type ResultAnswer struct {
	Answer                 string `json:"answer"`
	Image                  string `json:"image,omitempty"`
	Count                  int    `json:"count"`
	Percent                int    `json:"percent"`
	IsCurrentAccountAnswer bool   `json:"isCurrentAccountAnswer"`
}

// ResultView is the vote distribution of a survey as seen by one account.
// It is never stored.
type ResultView struct {
	SurveyID   string         `json:"surveyId"`
	Question   string         `json:"question"`
	Answers    []ResultAnswer `json:"answers"`
	ComputedAt time.Time      `json:"computedAt"`
}

// TotalVotes returns the number of counted answers
func (r *ResultView) TotalVotes() int {
	total := 0
	for _, a := range r.Answers {
		total += a.Count
	}
	return total
}
