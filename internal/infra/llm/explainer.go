package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"trivia-service/internal/domain"
)

var promptTemplate = template.Must(template.New("explain").Parse(`Question: {{.Question}}
Correct Answer: {{.Answer}}

Please provide a funny, brief, educational explanation (1-2 sentences) about why this is the correct answer.
Keep the explanation concise but informative.`))

// Explainer asks an Ollama-compatible /api/generate endpoint for commentary on
// a closed question. Calls are paced by a token bucket.
type Explainer struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewExplainer allows perMinute calls per minute; zero or less disables pacing.
func NewExplainer(baseURL, model string, timeout time.Duration, perMinute int) *Explainer {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = max(1, perMinute/10)
	}
	return &Explainer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (e *Explainer) Explain(ctx context.Context, q domain.Question, correctAnswer string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: %w: rate limit: %w", domain.ErrProviderUnavailable, err)
	}

	var prompt bytes.Buffer
	if err := promptTemplate.Execute(&prompt, struct{ Question, Answer string }{q.Text, correctAnswer}); err != nil {
		return "", fmt.Errorf("llm: render prompt: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Model:  e.model,
		Prompt: prompt.String(),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm: %w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, string(msg))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("llm: %w: empty response", domain.ErrProviderUnavailable)
	}
	return text, nil
}
