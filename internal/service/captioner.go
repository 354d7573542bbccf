package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/prompts"
)

// Captioner generates natural-language captions for images. Implementations
// hold a model resource between Load and Close; a Load failure is fatal for
// the caption run, and Close must be called on every exit path.
type Captioner interface {
	// Load acquires the model resource. Caption before Load is an error.
	Load(ctx context.Context) error
	// Caption generates a caption for the given image bytes.
	Caption(ctx context.Context, imageData []byte) (string, error)
	// Close releases the model resource. Safe to call more than once.
	Close() error
}

// HTTPCaptioner implements Captioner against an OpenAI-compatible vision
// chat endpoint.
type HTTPCaptioner struct {
	client   *resty.Client
	model    string
	endpoint string
	apiKey   string
	loaded   bool
}

// NewHTTPCaptioner creates a captioner for the configured provider.
// Parameters:
//   - cfg: caption configuration including model, API key, and base URL.
// Returns:
//   - *HTTPCaptioner: initialized captioner, not yet loaded.
func NewHTTPCaptioner(cfg *config.CaptionConfig) *HTTPCaptioner {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	// Vision requests carry a full image; give them room
	client.SetTimeout(120 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &HTTPCaptioner{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
		apiKey:   cfg.APIKey,
	}
}

// Model returns the model name being used.
func (c *HTTPCaptioner) Model() string {
	return c.model
}

// Load validates the configuration and arms the client. For an HTTP-backed
// model this is cheap, but the contract mirrors heavier local-model
// implementations where Load maps weights into memory.
func (c *HTTPCaptioner) Load(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("caption model unavailable: API key not configured")
	}
	c.client.SetHeader("Authorization", "Bearer "+c.apiKey)
	c.loaded = true
	return nil
}

// Close releases the model handle.
func (c *HTTPCaptioner) Close() error {
	c.loaded = false
	return nil
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type chatTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatImageContent struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Caption generates a caption for the image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: canonical JPEG bytes.
// Returns:
//   - string: generated caption text.
//   - error: non-nil if the model is not loaded or the API request fails.
func (c *HTTPCaptioner) Caption(ctx context.Context, imageData []byte) (string, error) {
	if !c.loaded {
		return "", fmt.Errorf("caption model not loaded")
	}

	base64Image := base64.StdEncoding.EncodeToString(imageData)
	dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64Image)

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: prompts.CaptionSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					chatTextContent{
						Type: "text",
						Text: prompts.CaptionUserPrompt,
					},
					chatImageContent{
						Type: "image_url",
						ImageURL: chatImageURL{
							URL:    dataURL,
							Detail: "auto",
						},
					},
				},
			},
		},
		MaxTokens: 300,
	}

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.endpoint)

	if err != nil {
		return "", fmt.Errorf("failed to call caption API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return "", fmt.Errorf("caption API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("caption API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from caption API (status: %d)", httpResp.StatusCode())
	}

	return resp.Choices[0].Message.Content, nil
}
