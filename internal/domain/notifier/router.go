// Package notifier routes persisted dose alerts to outbound channels by
// severity. Critical findings page the stewardship chat and copy the
// pharmacist inbox, high findings go to email, moderate findings stay on the
// dashboard. A record is marked sent only after its required channel
// delivered, so anything still pending gets picked up again on the next
// monitor cycle.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/domain/dosealert"
	"github.com/abxguard/abxguard/internal/domain/dosing"
	"github.com/abxguard/abxguard/internal/platform/notify"
	"github.com/abxguard/abxguard/internal/platform/telemetry"
)

// ErrDispatchFailed wraps a channel send that exhausted its retries. The
// alert stays pending and is redelivered on the next cycle.
var ErrDispatchFailed = errors.New("notification dispatch failed")

const (
	ChannelChat  = "chat"
	ChannelEmail = "email"
	ChannelQueue = "queue"
)

// Store is the slice of the alert service the router needs after a delivery.
type Store interface {
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// DispatchEvent describes one successful dispatch. It is emitted once per
// record, on the first dispatch that sticks.
type DispatchEvent struct {
	Alert    *dosealert.Record
	Channels []string
	SentAt   time.Time
}

// Listener observes dispatch events. Errors are logged by the router and
// never fail the dispatch.
type Listener interface {
	OnDispatch(ctx context.Context, ev DispatchEvent) error
}

// Router fans persisted alerts out to the configured channels. A nil sender
// means the channel is disabled by configuration.
type Router struct {
	chat       notify.ChatSender
	email      notify.EmailSender
	recipients []string
	store      Store
	retry      notify.RetryPolicy
	listeners  []Listener
	logger     zerolog.Logger
	tp         *telemetry.TelemetryProvider
}

func NewRouter(chat notify.ChatSender, email notify.EmailSender, recipients []string, store Store, logger zerolog.Logger) *Router {
	return &Router{
		chat:       chat,
		email:      email,
		recipients: recipients,
		store:      store,
		retry:      notify.DefaultRetryPolicy(),
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

// SetRetryPolicy overrides the per-cycle retry bounds.
func (r *Router) SetRetryPolicy(p notify.RetryPolicy) {
	r.retry = p
}

// SetTelemetry attaches per-channel dispatch counters.
func (r *Router) SetTelemetry(tp *telemetry.TelemetryProvider) {
	r.tp = tp
}

// AddListener registers a dispatch observer.
func (r *Router) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Dispatch delivers one alert according to its severity tier and marks the
// record sent when the required channel succeeds.
func (r *Router) Dispatch(ctx context.Context, rec *dosealert.Record) error {
	switch rec.Severity {
	case string(dosing.SeverityCritical):
		return r.dispatchCritical(ctx, rec)
	case string(dosing.SeverityHigh):
		return r.dispatchHigh(ctx, rec)
	}
	r.logger.Debug().
		Str("alert_id", rec.ID.String()).
		Str("severity", rec.Severity).
		Msg("no outbound channel for severity, alert stays on dashboard")
	return nil
}

// dispatchCritical pages chat and copies email. Chat is the gate: the record
// is marked sent only once the chat post lands, an email failure is logged
// and does not hold the alert back. Without a chat sender, email takes over
// as the gate.
func (r *Router) dispatchCritical(ctx context.Context, rec *dosealert.Record) error {
	if r.chat == nil && r.email == nil {
		r.logger.Warn().
			Str("alert_id", rec.ID.String()).
			Msg("no notification channels configured, critical alert stays pending")
		return nil
	}

	var channels []string
	if r.chat != nil {
		if err := r.sendChat(ctx, rec); err != nil {
			return err
		}
		channels = append(channels, ChannelChat)
		if r.email != nil {
			if err := r.sendEmail(ctx, rec); err != nil {
				r.logger.Warn().Err(err).
					Str("alert_id", rec.ID.String()).
					Msg("email copy failed, chat already delivered")
			} else {
				channels = append(channels, ChannelEmail)
			}
		}
	} else {
		if err := r.sendEmail(ctx, rec); err != nil {
			return err
		}
		channels = append(channels, ChannelEmail)
	}

	return r.markSent(ctx, rec, channels)
}

func (r *Router) dispatchHigh(ctx context.Context, rec *dosealert.Record) error {
	if r.email == nil {
		r.logger.Warn().
			Str("alert_id", rec.ID.String()).
			Msg("email sender not configured, high alert stays pending")
		return nil
	}
	if err := r.sendEmail(ctx, rec); err != nil {
		return err
	}
	return r.markSent(ctx, rec, []string{ChannelEmail})
}

func (r *Router) sendChat(ctx context.Context, rec *dosealert.Record) error {
	msg := chatMessage(rec)
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.chat.SendChat(ctx, msg)
	})
	if err != nil {
		r.count(ChannelChat, "failed")
		return fmt.Errorf("%w: chat: %v", ErrDispatchFailed, err)
	}
	r.count(ChannelChat, "ok")
	return nil
}

func (r *Router) sendEmail(ctx context.Context, rec *dosealert.Record) error {
	subject := emailSubject(rec)
	body := emailBody(rec)
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.email.SendEmail(ctx, r.recipients, subject, body)
	})
	if err != nil {
		r.count(ChannelEmail, "failed")
		return fmt.Errorf("%w: email: %v", ErrDispatchFailed, err)
	}
	r.count(ChannelEmail, "ok")
	return nil
}

// markSent flips the record and fans the event out. A record that left
// pending between listing and delivery is a benign race, not a failure.
func (r *Router) markSent(ctx context.Context, rec *dosealert.Record, channels []string) error {
	if err := r.store.MarkSent(ctx, rec.ID); err != nil {
		if errors.Is(err, dosealert.ErrInvalidTransition) {
			r.logger.Debug().
				Str("alert_id", rec.ID.String()).
				Msg("alert moved on before the send was recorded")
			return nil
		}
		return fmt.Errorf("mark sent: %w", err)
	}

	ev := DispatchEvent{Alert: rec, Channels: channels, SentAt: time.Now()}
	for _, l := range r.listeners {
		if err := l.OnDispatch(ctx, ev); err != nil {
			r.logger.Error().Err(err).
				Str("alert_id", rec.ID.String()).
				Msg("dispatch listener failed")
		}
	}

	r.logger.Info().
		Str("alert_id", rec.ID.String()).
		Str("severity", rec.Severity).
		Strs("channels", channels).
		Msg("dose alert dispatched")
	return nil
}

func (r *Router) count(channel, outcome string) {
	if r.tp != nil {
		r.tp.NotificationCounter(channel, outcome)
	}
}
