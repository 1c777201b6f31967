package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNotifyEventFilters(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{"winner_found", " pool_created "}, quiet)
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventBetPlaced}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventWinnerFound}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventPoolCreated}))

	assert.Equal(t, []string{"Winner found", "Pool created"}, s.titles)
}

func TestNotifyEventEmptyFilterAllowsAll(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, nil, quiet)

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventTicketTransferred}))
	assert.Len(t, s.titles, 1)
	assert.True(t, n.Enabled())
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	boom := errors.New("down")
	bad := &captureSender{name: "bad", err: boom}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet)

	err := n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventWinnerFound})
	require.ErrorIs(t, err, boom)
	assert.Len(t, good.titles, 1)
}

func TestFormatEvent(t *testing.T) {
	pool := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	title, msg := FormatEvent(domain.Event{Type: domain.EventFundsWithdrawn, Pool: pool, TicketID: 3, Amount: uint256.NewInt(42)})
	assert.Equal(t, "Funds withdrawn", title)
	assert.Contains(t, msg, "ticket #3 paid 42")

	_, msg = FormatEvent(domain.Event{Type: domain.EventFundsWithdrawn, Pool: pool})
	assert.Contains(t, msg, "paid 0")

	_, msg = FormatEvent(domain.Event{Type: domain.EventWinnerFound, Pool: pool, TicketID: 5, Guess: 25000, Value: 24800})
	assert.Contains(t, msg, "ticket #5 guessed 25000, oracle value 24800")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "T", "body"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*T*\nbody", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429: slow down")
}
