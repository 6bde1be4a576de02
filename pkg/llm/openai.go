package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultModel         = "gpt-4o-mini"
	maxRetries           = 3
	initialRetryDelay    = 1 * time.Second
	backoffFactor        = 2.0
)

// OpenAISummarizer implements Summarizer using OpenAI's Chat Completions API
type OpenAISummarizer struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOpenAISummarizer creates a new OpenAI summarizer client
func NewOpenAISummarizer(apiKey string) *OpenAISummarizer {
	return &OpenAISummarizer{
		APIKey:  apiKey,
		Model:   defaultModel,
		BaseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Summarize merges several memory texts into one consolidated statement.
// Retries rate-limit and server errors with jittered exponential backoff.
func (o *OpenAISummarizer) Summarize(ctx context.Context, texts []string, hint string) (string, error) {
	if len(texts) == 0 {
		return "", fmt.Errorf("no texts to summarize")
	}

	prompt := buildPrompt(texts, hint)

	var lastErr error
	delay := initialRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter to delay: random value between 0.5x and 1.5x of delay
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		result, err := o.makeRequest(ctx, prompt)
		if err == nil {
			return strings.TrimSpace(result), nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return "", err
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func buildPrompt(texts []string, hint string) string {
	var b strings.Builder
	b.WriteString("Combine the following statements about a person into a single concise statement. ")
	b.WriteString("Preserve every distinct fact, resolve duplicates, and do not invent details.")
	if hint != "" {
		b.WriteString(" All statements concern the category: ")
		b.WriteString(hint)
		b.WriteString(".")
	}
	b.WriteString("\n\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	b.WriteString("\nRespond with the combined statement only, no preamble.")
	return b.String()
}

func (o *OpenAISummarizer) makeRequest(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model: o.Model,
		Messages: []message{
			{
				Role:    "user",
				Content: prompt,
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Handle non-200 status codes
	if resp.StatusCode != http.StatusOK {
		// Retry on 429 (rate limit) and 5xx errors
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &retryableError{err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
		}
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return apiResp.Choices[0].Message.Content, nil
}

// retryableError indicates an error that should be retried
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func shouldRetry(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}
