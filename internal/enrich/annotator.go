package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// Annotation is the metadata the annotation service returns for one item.
type Annotation struct {
	ID           string  `json:"id"`
	ReleaseMonth *int    `json:"release_month"`
	ReleaseYear  *int    `json:"release_year"`
	Description  string  `json:"description"`
	Make         *string `json:"make"`
	Model        string  `json:"model"`
}

// Annotator supplies metadata for a batch of items in one call.
type Annotator interface {
	Annotate(ctx context.Context, items []catalog.EnrichCandidate) ([]Annotation, error)
}

// HTTPConfig configures the chat-completions annotation client.
type HTTPConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// HTTPAnnotator calls a chat-completions style endpoint and expects the
// assistant reply to be a JSON array of annotations.
type HTTPAnnotator struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPAnnotator builds an HTTPAnnotator. A nil client gets an
// OpenTelemetry-instrumented transport.
func NewHTTPAnnotator(cfg HTTPConfig, client *http.Client) (*HTTPAnnotator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("enrich.endpoint is required")
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	}
	return &HTTPAnnotator{cfg: cfg, client: client}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const promptTemplate = `You research 1:64 diecast car models.
Input is a JSON array of items, each with an id, a title of the form "<brand>, <model name>", and a brand:

%s

Reply with a JSON array only, no prose, in the same order as the input. Each element:
{"id": "<the input id, unchanged>", "release_month": <1-12>, "release_year": <yyyy>, "description": "<short profile of the car>", "make": "<real car manufacturer or null>", "model": "<specific car model>"}

If only a quarter is known use month 1, 4, 7 or 10.`

// Annotate sends all items in a single request.
func (a *HTTPAnnotator) Annotate(ctx context.Context, items []catalog.EnrichCandidate) ([]Annotation, error) {
	input, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model:       a.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: fmt.Sprintf(promptTemplate, input)}},
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call annotation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("annotation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode annotation response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.New("annotation response has no choices")
	}
	return parseAnnotations(chat.Choices[0].Message.Content)
}

func parseAnnotations(content string) ([]Annotation, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "[") {
		return nil, fmt.Errorf("annotation content is not a JSON array")
	}
	var out []Annotation
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode annotations: %w", err)
	}
	return out, nil
}
