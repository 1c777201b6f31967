// Package notify fans pool events out to chat channels (Telegram, Discord).
// Operators choose which event types are forwarded.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every sender. Only event types in the allowed set
// are forwarded; an empty set allows all of them.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, forwarding the named events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// NotifyEvent formats ev and sends it when its type is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, message := FormatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender even when some of them fail.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// FormatEvent renders ev as a short title and body.
func FormatEvent(ev domain.Event) (title, message string) {
	pool := ev.Pool.Hex()
	switch ev.Type {
	case domain.EventPoolCreated:
		title = "Pool created"
		message = fmt.Sprintf("pool %s", pool)
		if ev.Params != nil {
			message += fmt.Sprintf("\nstake %s, betting ends %s, lock-in ends %s",
				amount(ev.Params.StakeAmount),
				ev.Params.BettingEndsAt.UTC().Format("2006-01-02 15:04 MST"),
				ev.Params.LockInEndsAt.UTC().Format("2006-01-02 15:04 MST"))
		}
	case domain.EventBetPlaced:
		title = "Bet placed"
		message = fmt.Sprintf("pool %s\nticket #%d by %s, guess %d", pool, ev.TicketID, ev.Owner.Hex(), ev.Guess)
	case domain.EventFundsWithdrawn:
		title = "Funds withdrawn"
		message = fmt.Sprintf("pool %s\nticket #%d paid %s to %s", pool, ev.TicketID, amount(ev.Amount), ev.Owner.Hex())
	case domain.EventWinnerFound:
		title = "Winner found"
		message = fmt.Sprintf("pool %s\nticket #%d guessed %d, oracle value %d", pool, ev.TicketID, ev.Guess, ev.Value)
	case domain.EventTicketTransferred:
		title = "Ticket transferred"
		message = fmt.Sprintf("pool %s\nticket #%d %s -> %s", pool, ev.TicketID, ev.Owner.Hex(), ev.To.Hex())
	default:
		title = string(ev.Type)
		message = fmt.Sprintf("pool %s", pool)
	}
	return title, message
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
