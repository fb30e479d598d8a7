package examstub

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/examsession/internal/model"
)

var seedNamespace = uuid.MustParse("8a6e0804-2bd0-4672-b79d-d97027f9071a")

// SampleExam returns a deterministic exam and question pool for local runs:
// a 30-minute, 20-question pool capped at 10 questions per student, open for
// the next two hours.
func SampleExam() (*model.ExamDefinition, []model.Question) {
	now := time.Now()
	end := now.Add(2 * time.Hour)

	exam := &model.ExamDefinition{
		ID:              uuid.NewSHA1(seedNamespace, []byte("sample-exam")),
		Title:           "General Knowledge Sample",
		Description:     "Seeded exam for local development.",
		StartAt:         now.Add(-5 * time.Minute),
		EndAt:           &end,
		DurationMinutes: 30,
		MaxMarks:        100,
		MaxQuestions:    10,
		Status:          "ongoing",
	}

	pool := make([]model.Question, 0, 20)
	for i := 1; i <= 20; i++ {
		q := model.Question{
			ID:      uuid.NewSHA1(seedNamespace, []byte(fmt.Sprintf("question-%d", i))),
			Content: fmt.Sprintf("Sample question %d: which option is marked correct?", i),
		}
		for c := 0; c < 4; c++ {
			q.Choices = append(q.Choices, model.Choice{
				ID:        uuid.NewSHA1(seedNamespace, []byte(fmt.Sprintf("question-%d-choice-%d", i, c))),
				Content:   fmt.Sprintf("Option %c", 'A'+c),
				IsCorrect: c == i%4,
			})
		}
		pool = append(pool, q)
	}

	return exam, pool
}
