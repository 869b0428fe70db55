package models

import (
	"context"
	"errors"
)

// Publisher failures. Platform integrations wrap one of these so the
// scheduler and API can tell a bad request from an outage.
var (
	ErrUnsupportedTarget   = errors.New("unsupported publish target")
	ErrPublishTimeout      = errors.New("publish timed out")
	ErrPlatformUnavailable = errors.New("platform unavailable")
	ErrPlatformRejected    = errors.New("platform rejected the post")
)

// Publisher is the capability every platform integration must implement.
// The scheduler never calls a platform client directly; it always goes
// through the publisher registry.
type Publisher interface {
	// Publish posts one artifact to one target and returns the platform-assigned post ID.
	Publish(ctx context.Context, req PublishRequest) (PublishReceipt, error)
	// Name returns the implementation identifier (e.g., "relay", "telegram").
	Name() string
}

// PublishRequest is the input to a single publish call.
type PublishRequest struct {
	Target      string
	ArtifactRef string
	Caption     string
}

// PublishReceipt is returned by a successful publish.
type PublishReceipt struct {
	RemotePostID string
}
