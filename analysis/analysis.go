// Package analysis calls the external text-analysis service that
// categorizes a submission and proposes a one-sentence suggestion. The
// collaborator is best-effort: any failure degrades to a fixed fallback
// and never blocks post creation.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mdmahbub/amarkotha"
)

const (
	defaultTimeout = 3 * time.Second

	// FallbackSuggestion is returned whenever the service cannot answer.
	FallbackSuggestion = "Community discussion is key to solving this."
)

type request struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type response struct {
	Category   string `json:"category"`
	Suggestion string `json:"suggestion"`
}

type result struct {
	category   amarkotha.PostCategory
	suggestion string
}

// Client talks to the analysis endpoint. Repeated inputs are served from
// a short-lived cache to spare quota.
type Client struct {
	client   *http.Client
	cache    *cache.Cache
	endpoint string
	apiKey   string
	model    string
}

func New(endpoint, apiKey, model string) *Client {
	return &Client{
		client:   &http.Client{Timeout: defaultTimeout},
		cache:    cache.New(10*time.Minute, 15*time.Minute),
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
	}
}

// Analyze returns a category and suggestion for text. It never fails:
// timeouts, malformed responses and a missing endpoint all degrade to
// CategoryOther plus the fixed fallback suggestion.
func (c *Client) Analyze(ctx context.Context, text string) (amarkotha.PostCategory, string) {
	if c.endpoint == "" || text == "" {
		return amarkotha.CategoryOther, FallbackSuggestion
	}

	if cached, found := c.cache.Get(text); found {
		r := cached.(result)
		return r.category, r.suggestion
	}

	r, err := c.call(ctx, text)
	if err != nil {
		slog.Warn("analysis degraded to fallback",
			slog.String("error", err.Error()),
			slog.String("module", "analysis"),
		)
		return amarkotha.CategoryOther, FallbackSuggestion
	}

	c.cache.SetDefault(text, r)
	return r.category, r.suggestion
}

func (c *Client) call(ctx context.Context, text string) (result, error) {
	body, err := json.Marshal(request{Model: c.model, Text: text})
	if err != nil {
		return result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result{}, &statusError{code: resp.StatusCode}
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return result{}, err
	}

	suggestion := decoded.Suggestion
	if suggestion == "" {
		suggestion = FallbackSuggestion
	}

	return result{
		category:   amarkotha.ParseCategory(decoded.Category),
		suggestion: suggestion,
	}, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}
