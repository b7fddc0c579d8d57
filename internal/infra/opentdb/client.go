package opentdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trivia-service/internal/domain"
)

const (
	DefaultBaseURL = "https://opentdb.com"
	distractors    = 3
)

// Categories maps the category names accepted by the announce command to OpenTDB IDs.
var Categories = map[string]int{
	"general":   9,
	"books":     10,
	"film":      11,
	"music":     12,
	"science":   17,
	"computers": 18,
	"sports":    21,
	"geography": 22,
	"history":   23,
}

// Client fetches multiple-choice questions from the Open Trivia Database.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	shuffle    func(n int, swap func(i, j int))
}

type Option func(*Client)

// WithShuffle replaces the random shuffle used to place the correct answer.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(c *Client) { c.shuffle = shuffle }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  slog.Default(),
		shuffle: rand.Shuffle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	ResponseCode int         `json:"response_code"`
	Results      []apiRecord `json:"results"`
}

type apiRecord struct {
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Category         string   `json:"category"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// FetchQuestions requests count questions. Unknown category names fall back to
// any category. Malformed records are skipped; an empty result is an error.
func (c *Client) FetchQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	q := url.Values{}
	q.Set("amount", strconv.Itoa(count))
	q.Set("type", "multiple")
	if id, ok := Categories[category]; ok {
		q.Set("category", strconv.Itoa(id))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api.php?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("opentdb: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opentdb: %w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("opentdb: %w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("opentdb: decode response: %w", err)
	}
	if out.ResponseCode != 0 {
		return nil, fmt.Errorf("opentdb: %w: response code %d", domain.ErrProviderUnavailable, out.ResponseCode)
	}

	questions := make([]domain.Question, 0, len(out.Results))
	for _, rec := range out.Results {
		question, err := c.normalize(rec)
		if err != nil {
			c.logger.WarnContext(ctx, "opentdb: skipping record",
				slog.String("question", rec.Question),
				slog.Any("error", err),
			)
			continue
		}
		questions = append(questions, question)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("opentdb: %w: no valid questions in response", domain.ErrMalformedQuestion)
	}
	return questions, nil
}

func (c *Client) normalize(rec apiRecord) (domain.Question, error) {
	if len(rec.IncorrectAnswers) != distractors {
		return domain.Question{}, fmt.Errorf("%w: %d incorrect answers", domain.ErrMalformedQuestion, len(rec.IncorrectAnswers))
	}
	correct := strings.TrimSpace(html.UnescapeString(rec.CorrectAnswer))
	if correct == "" {
		return domain.Question{}, fmt.Errorf("%w: missing correct answer", domain.ErrMalformedQuestion)
	}

	options := make([]string, 0, distractors+1)
	options = append(options, correct)
	for _, a := range rec.IncorrectAnswers {
		options = append(options, strings.TrimSpace(html.UnescapeString(a)))
	}
	correctIdx := 0
	c.shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
		switch correctIdx {
		case i:
			correctIdx = j
		case j:
			correctIdx = i
		}
	})

	text := strings.TrimSpace(html.UnescapeString(rec.Question))
	sum := sha256.Sum256([]byte(text))
	q := domain.Question{
		ID:         hex.EncodeToString(sum[:8]),
		Text:       text,
		Options:    options,
		Correct:    correctIdx,
		Category:   html.UnescapeString(rec.Category),
		Difficulty: rec.Difficulty,
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}
