// Package telegram posts artifacts to a Telegram channel as videos.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/autopost/internal/config"
	"github.com/kiranshivaraju/autopost/pkg/models"
	tele "gopkg.in/telebot.v4"
)

// Target is the job target served by this publisher.
const Target = "telegram"

// Publisher implements models.Publisher using the Telegram Bot API.
type Publisher struct {
	bot  *tele.Bot
	chat *tele.Chat
}

// NewPublisher creates a Telegram Publisher. The bot is built offline so
// startup does not depend on reaching api.telegram.org.
func NewPublisher(cfg config.TelegramConfig, timeout time.Duration) (*Publisher, error) {
	return newPublisher(cfg, timeout, "")
}

func newPublisher(cfg config.TelegramConfig, timeout time.Duration, apiURL string) (*Publisher, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   cfg.BotToken,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Publisher{bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

func (p *Publisher) Name() string { return "telegram" }

// Publish sends the artifact URL as a video with the caption attached.
// The bot client is not context-aware, so the call is abandoned when ctx
// ends and finishes in the background under the HTTP client timeout.
func (p *Publisher) Publish(ctx context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		video := &tele.Video{File: tele.FromURL(req.ArtifactRef), Caption: req.Caption}
		msg, err := p.bot.Send(p.chat, video)
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.PublishReceipt{}, fmt.Errorf("%w: %v", models.ErrPublishTimeout, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return models.PublishReceipt{}, classifyError(res.err)
		}
		if res.msg == nil {
			return models.PublishReceipt{}, fmt.Errorf("%w: empty response", models.ErrPlatformRejected)
		}
		return models.PublishReceipt{RemotePostID: strconv.Itoa(res.msg.ID)}, nil
	}
}

// classifyError separates transport failures and flood control from API
// rejections of the post itself.
func classifyError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("%w: %v", models.ErrPlatformUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", models.ErrPublishTimeout, err)
		}
		return fmt.Errorf("%w: %v", models.ErrPlatformUnavailable, err)
	}

	return fmt.Errorf("%w: %v", models.ErrPlatformRejected, err)
}

var _ models.Publisher = (*Publisher)(nil)
