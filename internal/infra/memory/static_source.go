package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"trivia-service/internal/domain"
)

// StaticQuestionSource serves questions from an in-memory bank (useful for tests/demos).
// Banks are keyed by category name; an empty category draws from all of them.
type StaticQuestionSource struct {
	mu    sync.Mutex
	banks map[string][]domain.Question
	rnd   *rand.Rand
}

func NewStaticQuestionSource(banks map[string][]domain.Question) *StaticQuestionSource {
	return &StaticQuestionSource{
		banks: banks,
		rnd:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// NewSampleQuestionSource returns a source with a small built-in bank.
func NewSampleQuestionSource() *StaticQuestionSource {
	return NewStaticQuestionSource(sampleBank)
}

func (s *StaticQuestionSource) FetchQuestions(_ context.Context, count int, category string) ([]domain.Question, error) {
	var pool []domain.Question
	if category == "" {
		for _, qs := range s.banks {
			pool = append(pool, qs...)
		}
	} else {
		pool = append(pool, s.banks[category]...)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("static source: no questions for category %q", category)
	}

	s.mu.Lock()
	s.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	s.mu.Unlock()

	return pool[:min(count, len(pool))], nil
}

var sampleBank = map[string][]domain.Question{
	"general": {
		{ID: "gen-1", Text: "How many days are there in a leap year?", Options: []string{"364", "365", "366", "367"}, Correct: 2, Category: "General Knowledge", Difficulty: "easy"},
		{ID: "gen-2", Text: "Which colour do you get by mixing blue and yellow?", Options: []string{"Green", "Purple", "Orange", "Brown"}, Correct: 0, Category: "General Knowledge", Difficulty: "easy"},
		{ID: "gen-3", Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "7", "8"}, Correct: 1, Category: "General Knowledge", Difficulty: "easy"},
	},
	"science": {
		{ID: "sci-1", Text: "What is the chemical symbol for gold?", Options: []string{"Ag", "Gd", "Au", "Go"}, Correct: 2, Category: "Science & Nature", Difficulty: "easy"},
		{ID: "sci-2", Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter", "Mercury"}, Correct: 1, Category: "Science & Nature", Difficulty: "easy"},
		{ID: "sci-3", Text: "What gas do plants absorb from the atmosphere?", Options: []string{"Oxygen", "Nitrogen", "Hydrogen", "Carbon dioxide"}, Correct: 3, Category: "Science & Nature", Difficulty: "easy"},
	},
	"computers": {
		{ID: "cmp-1", Text: "What does CPU stand for?", Options: []string{"Central Processing Unit", "Computer Personal Unit", "Central Program Utility", "Core Processing Unit"}, Correct: 0, Category: "Science: Computers", Difficulty: "easy"},
		{ID: "cmp-2", Text: "How many bits are in a byte?", Options: []string{"4", "8", "16", "32"}, Correct: 1, Category: "Science: Computers", Difficulty: "easy"},
	},
	"geography": {
		{ID: "geo-1", Text: "What is the capital of Australia?", Options: []string{"Sydney", "Melbourne", "Canberra", "Perth"}, Correct: 2, Category: "Geography", Difficulty: "medium"},
		{ID: "geo-2", Text: "Which is the longest river in South America?", Options: []string{"Amazon", "Paraná", "Orinoco", "Magdalena"}, Correct: 0, Category: "Geography", Difficulty: "medium"},
	},
	"history": {
		{ID: "his-1", Text: "In which year did the Berlin Wall fall?", Options: []string{"1987", "1989", "1991", "1993"}, Correct: 1, Category: "History", Difficulty: "medium"},
		{ID: "his-2", Text: "Who was the first emperor of Rome?", Options: []string{"Julius Caesar", "Nero", "Augustus", "Trajan"}, Correct: 2, Category: "History", Difficulty: "medium"},
	},
}
