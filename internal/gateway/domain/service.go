package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrNoUpstreamAvailable = errors.New("no_upstream_available")
	ErrUnsupportedProvider = errors.New("unsupported_provider")
	ErrUpstreamFailed      = errors.New("upstream_failed")
	ErrImageNotSupported   = errors.New("image_not_supported")
)

// UpstreamError carries the upstream HTTP status so key health bookkeeping
// can classify quota and auth failures.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// TextRequest is one metered generation call.
type TextRequest struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type TextResult struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

type TextResponse struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	Text            string `json:"text"`
	Usage           Usage  `json:"usage"`
	RemainingCredit int64  `json:"remaining_credit"`
}

type ImageRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Size     string `json:"size,omitempty"`
}

type ImageResult struct {
	Model     string   `json:"model"`
	ImagesB64 []string `json:"images_b64"`
}

type ImageResponse struct {
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	ImagesB64       []string `json:"images_b64"`
	RemainingCredit int64    `json:"remaining_credit"`
}

// Adapter talks to one upstream provider. The client is pre-wired with the
// proxy routing for the upstream key in use.
type Adapter interface {
	Provider() string
	GenerateText(ctx context.Context, client *http.Client, apiKey string, req TextRequest) (*TextResult, error)
}

// ImageCapable is implemented by adapters that can also generate images.
type ImageCapable interface {
	GenerateImage(ctx context.Context, client *http.Client, apiKey string, req ImageRequest) (*ImageResult, error)
}

// Service meters generation calls against the credit ledger. Every reserved
// credit is either committed by a successful upstream call or refunded
// exactly once.
type Service interface {
	GenerateText(ctx context.Context, callerToken string, req TextRequest) (*TextResponse, error)
	GenerateImage(ctx context.Context, callerToken string, req ImageRequest) (*ImageResponse, error)
}
