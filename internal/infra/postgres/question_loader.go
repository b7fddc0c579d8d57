package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-service/internal/domain"
)

// QuestionLoader draws random questions from the questions table.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

// FetchQuestions matches category against category_key; empty means any.
// Rows that fail validation are skipped.
func (l *QuestionLoader) FetchQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, text, options, correct, category, difficulty
		FROM questions
		WHERE $2 = '' OR category_key = $2
		ORDER BY random()
		LIMIT $1`, count, category)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Text, &q.Options, &q.Correct, &q.Category, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if q.Validate() != nil {
			continue
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("load questions: none for category %q", category)
	}
	return questions, nil
}
