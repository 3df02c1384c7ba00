// Package bot maps inbound chat commands to subscription changes and replies.
package bot

import (
	"context"
	"errors"
	"fmt"

	"wikidaily/internal/content"
	"wikidaily/internal/subscription"
	kit "wikidaily/internal/transport"
	logx "wikidaily/pkg/logx"
)

// Subscriptions is the part of subscription.Store the dispatcher mutates.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64) error
	Unsubscribe(ctx context.Context, chatID int64) (subscription.Outcome, error)
}

type Config struct {
	BotUsername string
	Texts       Texts
}

// ErrReplyNotDelivered wraps a send failure that happened after the command
// took effect. Callers must not redeliver the event: the state change is
// already saved and a second run would answer from the new state.
var ErrReplyNotDelivered = errors.New("reply not delivered")

// Dispatcher handles one event at a time and keeps no state between events.
type Dispatcher struct {
	cfg     Config
	subs    Subscriptions
	content content.Source
	sender  kit.Sender
	log     logx.Logger
}

func NewDispatcher(cfg Config, subs Subscriptions, src content.Source, sender kit.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, subs: subs, content: src, sender: sender, log: log}
}

// Handle runs the command carried by ev. Unrecognized text and events without
// a chat are ignored. On a store or content failure the requester gets the
// failure text and the error is returned so the activation can report it.
// A reply lost after the command succeeded yields ErrReplyNotDelivered.
func (d *Dispatcher) Handle(ctx context.Context, ev kit.Event) error {
	if ev.ChatID == 0 {
		return nil
	}
	cmd := ParseCommand(ev.Text, d.cfg.BotUsername)
	if cmd == Unrecognized {
		return nil
	}
	log := d.log.With(logx.Int64("chat_id", ev.ChatID), logx.String("cmd", cmd.String()))
	if ev.UpdateID != 0 {
		log = log.With(logx.Int("update_id", ev.UpdateID))
	}

	reply, err := d.run(ctx, cmd, ev.ChatID)
	if err != nil {
		log.Error("command failed", logx.Err(err))
		if _, serr := d.sender.SendText(ctx, kit.ChatTarget{ChatID: ev.ChatID}, d.cfg.Texts.Failure, nil); serr != nil {
			log.Warn("failure reply not delivered", logx.Err(serr))
		}
		return fmt.Errorf("%s for chat %d: %w", cmd, ev.ChatID, err)
	}

	if _, err := d.sender.SendText(ctx, kit.ChatTarget{ChatID: ev.ChatID}, reply, nil); err != nil {
		log.Warn("reply not delivered", logx.Err(err))
		return fmt.Errorf("%w: %s to chat %d: %w", ErrReplyNotDelivered, cmd, ev.ChatID, err)
	}
	log.Debug("command handled")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, cmd Command, chatID int64) (string, error) {
	switch cmd {
	case Subscribe:
		if err := d.subs.Subscribe(ctx, chatID); err != nil {
			return "", err
		}
		return d.cfg.Texts.Onboarding, nil

	case Unsubscribe:
		out, err := d.subs.Unsubscribe(ctx, chatID)
		if err != nil {
			return "", err
		}
		if out == subscription.Unsubscribed {
			return d.cfg.Texts.Stopped, nil
		}
		return d.cfg.Texts.AlreadyStopped, nil

	case RequestContentNow:
		return d.content.Random(ctx)
	}
	return "", fmt.Errorf("unhandled command %s", cmd)
}
