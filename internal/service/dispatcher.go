package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// EventsChannel is the pub/sub channel that carries every pool event.
const EventsChannel = "events"

// PoolStream returns the per-pool stream name.
func PoolStream(pool common.Address) string { return "pool:" + pool.Hex() }

// WinnerAttestor signs winner_found events.
type WinnerAttestor interface {
	AttestWinner(ev domain.Event) (string, error)
}

// EventNotifier forwards events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// EventDispatcher implements domain.EventSink. Each event goes to the signal
// bus, then the event log, then the notifier. Failures are logged and do not
// stop the remaining targets. Every target is optional.
type EventDispatcher struct {
	bus      domain.SignalBus
	store    domain.EventStore
	notifier EventNotifier
	attestor WinnerAttestor
	logger   *slog.Logger
}

// NewEventDispatcher creates an EventDispatcher.
func NewEventDispatcher(
	bus domain.SignalBus,
	store domain.EventStore,
	notifier EventNotifier,
	attestor WinnerAttestor,
	logger *slog.Logger,
) *EventDispatcher {
	return &EventDispatcher{
		bus:      bus,
		store:    store,
		notifier: notifier,
		attestor: attestor,
		logger:   logger.With(slog.String("component", "event_dispatcher")),
	}
}

// Emit fans ev out.
func (d *EventDispatcher) Emit(ctx context.Context, ev domain.Event) {
	ctx = context.WithoutCancel(ctx)
	log := d.logger.With(
		slog.String("event", string(ev.Type)),
		slog.String("pool", ev.Pool.Hex()),
		slog.Uint64("seq", ev.Seq),
	)

	if ev.Type == domain.EventWinnerFound && d.attestor != nil {
		sig, err := d.attestor.AttestWinner(ev)
		if err != nil {
			log.ErrorContext(ctx, "attest winner failed", slog.String("error", err.Error()))
		} else {
			ev.Signature = sig
		}
	}

	if d.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		} else {
			if err := d.bus.Publish(ctx, EventsChannel, payload); err != nil {
				log.WarnContext(ctx, "publish event failed", slog.String("error", err.Error()))
			}
			if err := d.bus.StreamAppend(ctx, PoolStream(ev.Pool), payload); err != nil {
				log.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if d.store != nil {
		if err := d.store.Append(ctx, ev); err != nil {
			log.ErrorContext(ctx, "append event failed", slog.String("error", err.Error()))
		}
	}

	if d.notifier != nil {
		if err := d.notifier.NotifyEvent(ctx, ev); err != nil {
			log.WarnContext(ctx, "notify event failed", slog.String("error", err.Error()))
		}
	}
	log.DebugContext(ctx, "event dispatched")
}
