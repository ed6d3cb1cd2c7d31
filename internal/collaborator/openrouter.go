package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1"
	defaultModel     = "openai/gpt-4o-mini"
	defaultMaxTokens = 4000
)

// Environment variables honored by the OpenRouter adapter.
const (
	EnvAPIKey = "OPENROUTER_API_KEY"
	EnvModel  = "ML_UPGRADER_MODEL"
)

// OpenRouterClient proposes candidate rewrites through the OpenRouter
// chat-completions API.
type OpenRouterClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Retry      RetryPolicy
}

// NewOpenRouterFromEnv builds a client from the environment. The model
// argument wins over ML_UPGRADER_MODEL; both fall back to the default.
func NewOpenRouterFromEnv(model string) (*OpenRouterClient, error) {
	key := strings.TrimSpace(os.Getenv(EnvAPIKey))
	if key == "" {
		return nil, &ConfigurationError{Message: EnvAPIKey + " is not set"}
	}
	if strings.TrimSpace(model) == "" {
		model = strings.TrimSpace(os.Getenv(EnvModel))
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenRouterClient{
		BaseURL:    defaultBaseURL,
		APIKey:     key,
		Model:      model,
		MaxTokens:  defaultMaxTokens,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Retry:      DefaultRetryPolicy(),
	}, nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
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
	} `json:"error,omitempty"`
}

// Propose requests a candidate rewrite, retrying retryable failures with
// backoff under the client's retry policy.
func (c *OpenRouterClient) Propose(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", &ConfigurationError{Message: "API key is empty"}
	}
	prompt := BuildPrompt(req)
	seed := c.Model + ":" + req.Path
	raw, err := callWithRetry(ctx, c.Retry, seed, func(ctx context.Context) (string, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return ExtractCode(raw), nil
}

func (c *OpenRouterClient) complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:     c.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &MalformedResponseError{Message: fmt.Sprintf("encoding request: %v", err)}
	}

	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("X-Request-ID", ulid.Make().String())

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", ErrorFromHTTPStatus(resp.StatusCode, errorMessage(respBody), parseRetryAfter(resp))
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", &MalformedResponseError{Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", &MalformedResponseError{Message: decoded.Error.Message}
	}
	if len(decoded.Choices) == 0 {
		return "", &MalformedResponseError{Message: "response has no choices"}
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &MalformedResponseError{Message: "response content is empty"}
	}
	return content, nil
}

func errorMessage(body []byte) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func parseRetryAfter(resp *http.Response) *time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	return nil
}
