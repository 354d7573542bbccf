package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tomo/mnemo/internal/config"
)

const defaultJinaEndpoint = "https://api.jina.ai/v1/embeddings"

// Embedder produces fixed-dimension vectors for text and images. Both
// modalities share one embedding space (CLIP-style), so a text query can be
// scored against image vectors. Outputs are L2-normalized before they leave
// the implementation, which makes the index's inner product a cosine
// similarity.
type Embedder interface {
	// Load acquires the model resource.
	Load(ctx context.Context) error
	// EmbedText embeds a text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedImage embeds raw image bytes.
	EmbedImage(ctx context.Context, imageData []byte) ([]float32, error)
	// Dimensions returns the vector dimension produced by this model.
	Dimensions() int
	// Close releases the model resource. Safe to call more than once.
	Close() error
}

// JinaEmbedder implements Embedder against a Jina-style embeddings endpoint
// with a multimodal model.
type JinaEmbedder struct {
	client     *resty.Client
	model      string
	endpoint   string
	apiKey     string
	dimensions int
	loaded     bool
}

// NewJinaEmbedder creates an embedder for the configured provider.
func NewJinaEmbedder(cfg *config.EmbeddingConfig) *JinaEmbedder {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(60 * time.Second)

	endpoint := defaultJinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = cfg.BaseURL + "/embeddings"
	}

	return &JinaEmbedder{
		client:     client,
		model:      cfg.Model,
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
	}
}

// Model returns the model name being used.
func (e *JinaEmbedder) Model() string {
	return e.model
}

// Dimensions returns the configured vector dimension.
func (e *JinaEmbedder) Dimensions() int {
	return e.dimensions
}

// Load validates the configuration and arms the client.
func (e *JinaEmbedder) Load(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("embedding model unavailable: API key not configured")
	}
	e.client.SetHeader("Authorization", "Bearer "+e.apiKey)
	e.loaded = true
	return nil
}

// Close releases the model handle.
func (e *JinaEmbedder) Close() error {
	e.loaded = false
	return nil
}

// Jina API request/response structures. Input entries are either
// {"text": ...} or {"image": <base64>} for multimodal models.
type embedRequest struct {
	Model         string       `json:"model"`
	Task          string       `json:"task,omitempty"`
	Dimensions    int          `json:"dimensions,omitempty"`
	Input         []embedInput `json:"input"`
	EmbeddingType string       `json:"embedding_type,omitempty"`
}

type embedInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EmbedText embeds a text string.
func (e *JinaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, embedInput{Text: text})
}

// EmbedImage embeds raw image bytes.
func (e *JinaEmbedder) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return e.embed(ctx, embedInput{Image: base64.StdEncoding.EncodeToString(imageData)})
}

func (e *JinaEmbedder) embed(ctx context.Context, input embedInput) ([]float32, error) {
	if !e.loaded {
		return nil, fmt.Errorf("embedding model not loaded")
	}

	req := embedRequest{
		Model:         e.model,
		Dimensions:    e.dimensions,
		Input:         []embedInput{input},
		EmbeddingType: "float",
	}

	var resp embedResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(e.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embedding API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimension: got %d, expected %d", len(vec), e.dimensions)
	}

	normalize(vec)
	return vec, nil
}

// normalize rescales the vector to unit L2 norm in place. Zero vectors are
// left untouched.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
