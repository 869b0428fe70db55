// Package relay publishes through an HTTP function that fans a single post
// out to the social platform named in the request body.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/autopost/internal/config"
	"github.com/kiranshivaraju/autopost/pkg/models"
)

// maxErrorBody caps how much of a failed response is copied into the error.
const maxErrorBody = 512

// Publisher implements models.Publisher against the relay endpoint.
type Publisher struct {
	url    string
	apiKey string
	client *http.Client
}

// NewPublisher creates a relay Publisher. timeout bounds each HTTP round trip.
func NewPublisher(cfg config.RelayConfig, timeout time.Duration) *Publisher {
	return &Publisher{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Publisher) Name() string { return "relay" }

func (p *Publisher) Publish(ctx context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
	body, err := json.Marshal(postRequest{
		Platform: req.Target,
		VideoURL: req.ArtifactRef,
		Caption:  req.Caption,
	})
	if err != nil {
		return models.PublishReceipt{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return models.PublishReceipt{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		httpReq.Header.Set("apikey", p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.PublishReceipt{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.PublishReceipt{}, statusError(resp)
	}

	var out postResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.PublishReceipt{}, fmt.Errorf("%w: decoding relay response: %v", models.ErrPlatformRejected, err)
	}
	if out.Error != "" {
		return models.PublishReceipt{}, fmt.Errorf("%w: %s", models.ErrPlatformRejected, out.Error)
	}

	return models.PublishReceipt{RemotePostID: out.PostID}, nil
}

// statusError maps a non-2xx response. 5xx and 429 mean the platform is
// down or throttling; anything else is a rejection of this post.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))

	var body postResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}

	sentinel := models.ErrPlatformRejected
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		sentinel = models.ErrPlatformUnavailable
	}
	if msg == "" {
		return fmt.Errorf("%w: status %d", sentinel, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, msg)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrPublishTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrPublishTimeout, err)
	}

	return fmt.Errorf("%w: %v", models.ErrPlatformUnavailable, err)
}

type postRequest struct {
	Platform string `json:"platform"`
	VideoURL string `json:"videoUrl"`
	Caption  string `json:"caption"`
}

type postResponse struct {
	PostID string `json:"postId"`
	Error  string `json:"error,omitempty"`
}

var _ models.Publisher = (*Publisher)(nil)
