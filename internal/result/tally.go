// Package result computes survey result views from answer records.
package result

import (
	"time"

	"github.com/hard-gainer/survey-service/internal/model"
)

// Tally groups records by answer and builds the result view of survey for
// accountID. Every survey option appears once, in survey order, including
// options nobody chose.
//
// Each percentage is rounded half-up on its own, so the shares of a survey are
// not forced to add up to 100 (1/3 of 3 votes each gives 33/33/33).
//
// Records from the same account are counted once, the most recent one wins.
// On equal AnsweredAt the greater answer wins, so input order never matters.
// Records whose answer is not an option of the survey are not counted and do
// not add to the total.
//
// ComputedAt is the most recent AnsweredAt among counted records, or now when
// nobody has answered yet.
func Tally(survey model.Survey, records []model.AnswerRecord, accountID string, now time.Time) model.ResultView {
	latest := latestPerAccount(records)

	counts := make(map[string]int, len(survey.Answers))
	for _, opt := range survey.Answers {
		counts[opt.Answer] = 0
	}

	total := 0
	own := ""
	var computedAt time.Time
	for account, rec := range latest {
		if _, ok := counts[rec.Answer]; !ok {
			continue
		}
		counts[rec.Answer]++
		total++
		if account == accountID {
			own = rec.Answer
		}
		if rec.AnsweredAt.After(computedAt) {
			computedAt = rec.AnsweredAt
		}
	}
	if total == 0 {
		computedAt = now
	}

	answers := make([]model.ResultAnswer, 0, len(survey.Answers))
	for _, opt := range survey.Answers {
		count := counts[opt.Answer]
		answers = append(answers, model.ResultAnswer{
			Answer:                 opt.Answer,
			Image:                  opt.Image,
			Count:                  count,
			Percent:                Percent(count, total),
			IsCurrentAccountAnswer: own != "" && own == opt.Answer,
		})
	}

	return model.ResultView{
		SurveyID:   survey.ID,
		Question:   survey.Question,
		Answers:    answers,
		ComputedAt: computedAt,
	}
}

// Percent returns 100*count/total rounded half-up, or 0 when total is 0.
func Percent(count, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*count + total) / (2 * total)
}

func latestPerAccount(records []model.AnswerRecord) map[string]model.AnswerRecord {
	latest := make(map[string]model.AnswerRecord, len(records))
	for _, rec := range records {
		prev, ok := latest[rec.AccountID]
		if ok && !newer(rec, prev) {
			continue
		}
		latest[rec.AccountID] = rec
	}
	return latest
}

func newer(rec, prev model.AnswerRecord) bool {
	if !rec.AnsweredAt.Equal(prev.AnsweredAt) {
		return rec.AnsweredAt.After(prev.AnsweredAt)
	}
	return rec.Answer > prev.Answer
}
