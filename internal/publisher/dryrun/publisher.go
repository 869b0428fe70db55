// Package dryrun provides a publisher that records intent without posting.
package dryrun

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autopost/pkg/models"
)

// Publisher logs each request and returns a synthetic post ID.
type Publisher struct {
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger.With("component", "dryrun")}
}

func (p *Publisher) Name() string { return "dryrun" }

func (p *Publisher) Publish(ctx context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
	if err := ctx.Err(); err != nil {
		return models.PublishReceipt{}, err
	}
	id := "dryrun-" + uuid.NewString()
	p.logger.Info("dry run publish",
		"target", req.Target,
		"artifact_ref", req.ArtifactRef,
		"remote_post_id", id,
	)
	return models.PublishReceipt{RemotePostID: id}, nil
}

var _ models.Publisher = (*Publisher)(nil)
