package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-service/internal/app"
	"trivia-service/internal/domain"
)

const defaultBatchSize = 50

// QuestionPool shares a cache of fetched questions between instances. Each
// category is a list of JSON encoded questions: trivia:pool:{category}.
// Taking questions pops them, so no two games draw the same cached question.
// When Redis is unavailable the pool reads straight from the source.
type QuestionPool struct {
	client *redis.Client
	source app.QuestionSource
	batch  int
	ttl    time.Duration
	logger *slog.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionPool(client *redis.Client, source app.QuestionSource, batch int, ttl time.Duration, logger *slog.Logger) *QuestionPool {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionPool{
		client: client,
		source: source,
		batch:  batch,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *QuestionPool) FetchQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	got, err := p.take(ctx, count, category)
	if err != nil {
		p.logger.WarnContext(ctx, "question pool: redis unavailable, using source",
			slog.String("category", category),
			slog.Any("error", err),
		)
		return p.source.FetchQuestions(ctx, count, category)
	}
	if len(got) == count {
		return got, nil
	}

	_, err, _ = p.sf.Do(category, func() (interface{}, error) {
		qs, err := p.source.FetchQuestions(ctx, max(p.batch, count), category)
		if err != nil {
			return nil, err
		}
		return nil, p.refill(ctx, category, qs)
	})
	if err != nil && len(got) == 0 {
		return nil, err
	}

	more, terr := p.take(ctx, count-len(got), category)
	if terr != nil && len(got) == 0 {
		return nil, terr
	}
	return appendUnique(got, more), nil
}

func (p *QuestionPool) take(ctx context.Context, count int, category string) ([]domain.Question, error) {
	key := p.key(category)
	var lrange *redis.StringSliceCmd
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, int64(count-1))
		pipe.LTrim(ctx, key, int64(count), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("take from pool %s: %w", key, err)
	}

	raw := lrange.Val()
	out := make([]domain.Question, 0, len(raw))
	for _, r := range raw {
		var q domain.Question
		if err := json.Unmarshal([]byte(r), &q); err != nil {
			p.logger.WarnContext(ctx, "question pool: dropping undecodable entry",
				slog.String("key", key),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (p *QuestionPool) refill(ctx context.Context, category string, qs []domain.Question) error {
	if len(qs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(qs))
	for _, q := range qs {
		b, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode question %s: %w", q.ID, err)
		}
		values = append(values, b)
	}

	key := p.key(category)
	pipe := p.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	if ttl := p.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("refill pool %s: %w", key, err)
	}
	return nil
}

func (p *QuestionPool) key(category string) string {
	if category == "" {
		category = "any"
	}
	return "trivia:pool:" + category
}

func (p *QuestionPool) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
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
