package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-service/internal/app"
	"trivia-service/internal/domain"
)

const defaultBatchSize = 50

// QuestionPool caches fetched questions per category so that announcing a game
// does not always hit the content provider. Questions are handed out at most
// once; a bucket is refilled from the source when it runs short or expires.
type QuestionPool struct {
	source app.QuestionSource
	batch  int
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionPool(source app.QuestionSource, batch int, ttl time.Duration) *QuestionPool {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &QuestionPool{
		source:  source,
		batch:   batch,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		buckets: make(map[string]*bucket),
	}
}

func (p *QuestionPool) FetchQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	if out := p.take(count, category); len(out) == count {
		return out, nil
	} else if len(out) > 0 {
		p.putBack(category, out)
	}

	_, err, _ := p.sf.Do(category, func() (interface{}, error) {
		qs, err := p.source.FetchQuestions(ctx, max(p.batch, count), category)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		b := p.bucketLocked(category)
		b.questions = appendUnique(b.questions, qs)
		b.expiresAt = p.clock().Add(p.ttlWithJitter())
		return nil, nil
	})

	out := p.take(count, category)
	if len(out) == 0 && err != nil {
		return nil, err
	}
	return out, nil
}

func (p *QuestionPool) take(count int, category string) []domain.Question {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.bucketLocked(category)
	if p.ttl > 0 && !b.expiresAt.After(p.clock()) {
		b.questions = nil
	}
	n := min(count, len(b.questions))
	out := append([]domain.Question(nil), b.questions[:n]...)
	b.questions = b.questions[n:]
	return out
}

func (p *QuestionPool) putBack(category string, qs []domain.Question) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.bucketLocked(category)
	b.questions = append(qs, b.questions...)
}

func (p *QuestionPool) bucketLocked(category string) *bucket {
	b, ok := p.buckets[category]
	if !ok {
		b = &bucket{}
		p.buckets[category] = b
	}
	return b
}

func (p *QuestionPool) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(p.ttl) / 10
	return p.ttl + time.Duration(p.rnd.Int63n(jitterMax+1))
}

func appendUnique(dst, src []domain.Question) []domain.Question {
	seen := make(map[string]struct{}, len(dst))
	for _, q := range dst {
		seen[q.ID] = struct{}{}
	}
	for _, q := range src {
		if _, ok := seen[q.ID]; ok {
			continue
		}
		seen[q.ID] = struct{}{}
		dst = append(dst, q)
	}
	return dst
}
