package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/models"
)

// Classifier labels a filing's narrative with how the filer characterises
// the reported event.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.MaterialityLabel, error)
}

const systemPrompt = `You read the narrative of a Form 8-K disclosure about a cybersecurity incident.
Decide how the filer itself characterises the incident:
- "considered material" if the filer states the incident is material or has materially impacted, or is reasonably likely to materially impact, the company;
- "not considered material" if the filer states it is not material, has not materially impacted, or is not reasonably likely to materially impact the company;
- "undetermined" if the filer has not yet determined materiality or does not say.
Answer with exactly one of: considered material, not considered material, undetermined.`

// LLMClassifier calls an OpenAI-compatible chat completion endpoint.
type LLMClassifier struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Classify returns one of the closed label set. Any failure, including an
// answer outside the set, wraps apperr.ErrClassification.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (models.MaterialityLabel, error) {
	if c.BaseURL == "" || c.Model == "" {
		return models.LabelUndetermined, fmt.Errorf("%w: base URL and model required", apperr.ErrClassification)
	}
	if strings.TrimSpace(text) == "" {
		return models.LabelUndetermined, fmt.Errorf("%w: empty narrative", apperr.ErrClassification)
	}

	answer, err := c.chat(ctx, systemPrompt, text)
	if err != nil {
		return models.LabelUndetermined, fmt.Errorf("%w: %v", apperr.ErrClassification, err)
	}

	label, ok := models.ParseMaterialityLabel(answer)
	if !ok {
		return models.LabelUndetermined, fmt.Errorf("%w: unexpected answer %q", apperr.ErrClassification, answer)
	}
	return label, nil
}

func (c *LLMClassifier) chat(ctx context.Context, system, user string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:    c.Model,
		Messages: []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if payload.Error != nil {
		return "", fmt.Errorf("llm error: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *LLMClassifier) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Disabled is used when classification is turned off. It labels nothing.
type Disabled struct{}

// Classify returns an empty label.
func (Disabled) Classify(context.Context, string) (models.MaterialityLabel, error) {
	return "", nil
}
