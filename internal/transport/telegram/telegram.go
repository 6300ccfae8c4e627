// Package telegram adapts the opaque push-channel contract to the Telegram
// Bot API. It renders a composed message as a photo with an inline keyboard:
// a false-alert report button (callback carrying the feedback token) and a
// full-image URL button. It also owns recipient registration commands and
// routes false-alert callbacks back into the feedback sink.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"golang.org/x/time/rate"

	"lookout/internal/storage"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

// Platform is the roster platform tag for Telegram recipients.
const Platform = "telegram"

const feedbackUnique = "false_alert"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec paces per-recipient sends inside Broadcast (Telegram caps
	// bots around 30 messages/second). Default 20.
	RatePerSec int
}

// Channel implements transport.PushChannel over a Telegram bot.
// A nil store disables /subscribe, /unsubscribe and feedback recording.
type Channel struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
	store   storage.Store

	// send performs one delivery; swapped out in tests.
	send func(chatID int64, msg transport.Message, markup *tele.ReplyMarkup) error

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, store storage.Store, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	c := &Channel{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		store:   store,
	}
	c.send = c.sendOne
	c.registerHandlers()
	return c, nil
}

func (c *Channel) registerHandlers() {
	c.bot.Handle("/subscribe", func(tc tele.Context) error {
		if c.store == nil {
			return tc.Send("registration is not enabled on this bot")
		}
		id := transport.RecipientID(strconv.FormatInt(tc.Chat().ID, 10))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.AddRecipient(ctx, Platform, id); err != nil {
			c.log.Warn("subscribe failed", logx.String("recipient", string(id)), logx.Err(err))
			return tc.Send("subscription failed, try again later")
		}
		c.log.Info("recipient subscribed", logx.String("recipient", string(id)))
		return tc.Send("subscribed to detection alerts")
	})

	c.bot.Handle("/unsubscribe", func(tc tele.Context) error {
		if c.store == nil {
			return tc.Send("registration is not enabled on this bot")
		}
		id := transport.RecipientID(strconv.FormatInt(tc.Chat().ID, 10))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.RemoveRecipient(ctx, Platform, id); err != nil {
			c.log.Warn("unsubscribe failed", logx.String("recipient", string(id)), logx.Err(err))
			return tc.Send("unsubscribe failed, try again later")
		}
		c.log.Info("recipient unsubscribed", logx.String("recipient", string(id)))
		return tc.Send("unsubscribed from detection alerts")
	})

	c.bot.Handle("/status", func(tc tele.Context) error {
		if c.store == nil {
			return tc.Send("registration is not enabled on this bot")
		}
		id := transport.RecipientID(strconv.FormatInt(tc.Chat().ID, 10))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ids, err := c.store.ListRecipients(ctx, Platform)
		if err != nil {
			c.log.Warn("status lookup failed", logx.String("recipient", string(id)), logx.Err(err))
			return tc.Send("status unavailable, try again later")
		}
		for _, r := range ids {
			if r == id {
				return tc.Send(fmt.Sprintf("subscribed (%d recipient(s) total)", len(ids)))
			}
		}
		return tc.Send("not subscribed; use /subscribe to get detection alerts")
	})

	// Per-message report buttons share this unique, so one handler catches
	// them all; the callback data is the feedback token.
	markup := &tele.ReplyMarkup{}
	reportBtn := markup.Data("", feedbackUnique)
	c.bot.Handle(&reportBtn, func(tc tele.Context) error {
		token := strings.TrimSpace(tc.Data())
		from := transport.RecipientID(strconv.FormatInt(tc.Chat().ID, 10))
		if token == "" {
			return tc.Respond(&tele.CallbackResponse{Text: "nothing to report"})
		}
		if c.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			fb := transport.Feedback{Token: token, From: from, At: time.Now()}
			if err := c.store.AppendFeedback(ctx, fb); err != nil {
				c.log.Warn("feedback record failed", logx.String("token", token), logx.Err(err))
				return tc.Respond(&tele.CallbackResponse{Text: "could not record report"})
			}
		}
		c.log.Info("false alert reported",
			logx.String("token", token), logx.String("recipient", string(from)))
		return tc.Respond(&tele.CallbackResponse{Text: "thanks, report recorded"})
	})
}

// Start begins long-polling for commands and callbacks. Broadcast works
// without Start, but registration and feedback need the poll loop.
func (c *Channel) Start(ctx context.Context) {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.runMu.Unlock()

	go func() {
		<-ctx.Done()
		c.bot.Stop()
	}()
	go func() {
		c.log.Info("telegram polling started")
		c.bot.Start()
		c.log.Info("telegram polling stopped")
	}()
}

func (c *Channel) Stop(ctx context.Context) {
	c.runMu.Lock()
	wasRunning := c.running
	c.running = false
	c.runMu.Unlock()
	if !wasRunning {
		return
	}

	// telebot Stop is expected to be fast; run it async just in case and
	// keep shutdown snappy even if the long-poll is still waiting.
	done := make(chan struct{})
	go func() {
		c.bot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("telegram stop timed out")
	case <-time.After(2 * time.Second):
		c.log.Warn("telegram stop timed out")
	}
}

// Broadcast fans the message out to every recipient, pacing sends with the
// channel's rate limiter. Recipients that fail (bad ID, blocked bot, API
// error) are skipped; an error is returned if any send failed.
func (c *Channel) Broadcast(ctx context.Context, to []transport.RecipientID, msg transport.Message) error {
	var (
		failed  int
		lastErr error
	)
	markup := buildMarkup(msg)

	for _, id := range to {
		chatID, err := strconv.ParseInt(string(id), 10, 64)
		if err != nil {
			c.log.Warn("skipping malformed recipient id", logx.String("recipient", string(id)))
			failed++
			lastErr = fmt.Errorf("malformed recipient id %q", id)
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := c.send(chatID, msg, markup); err != nil {
			c.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			failed++
			lastErr = err
			continue
		}
	}

	if failed > 0 {
		return fmt.Errorf("telegram broadcast: %d/%d sends failed: %w", failed, len(to), lastErr)
	}
	return nil
}

func (c *Channel) sendOne(chatID int64, msg transport.Message, markup *tele.ReplyMarkup) error {
	chat := &tele.Chat{ID: chatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if markup != nil {
		opt.ReplyMarkup = markup
	}

	caption := msg.Title
	if msg.Body != "" {
		caption += "\n" + msg.Body
	}

	if msg.ThumbnailURL != "" {
		photo := &tele.Photo{File: tele.FromURL(msg.ThumbnailURL), Caption: caption}
		_, err := c.bot.Send(chat, photo, opt)
		return err
	}
	_, err := c.bot.Send(chat, caption, opt)
	return err
}

// buildMarkup renders the message's action buttons. Messages without a
// feedback token or full-image URL (e.g. digests) get no keyboard.
func buildMarkup(msg transport.Message) *tele.ReplyMarkup {
	var rows []tele.Row
	m := &tele.ReplyMarkup{}
	if msg.FeedbackToken != "" {
		rows = append(rows, m.Row(m.Data("Report false alert", feedbackUnique, msg.FeedbackToken)))
	}
	if msg.FullImageURL != "" {
		rows = append(rows, m.Row(m.URL("Full image", msg.FullImageURL)))
	}
	if len(rows) == 0 {
		return nil
	}
	m.Inline(rows...)
	return m
}
