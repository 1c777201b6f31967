package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/server/ws"
	"github.com/alanyoungcy/yieldbet/internal/store/memory"
)

var (
	poolA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func eventJSON(t *testing.T, pool common.Address, seq uint64) []byte {
	t.Helper()
	data, err := json.Marshal(domain.Event{ID: "e", Type: domain.EventBetPlaced, Pool: pool, Seq: seq})
	require.NoError(t, err)
	return data
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubRelaysAndFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := ws.NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), ws.Config{Mode: "dev"})
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(hello), `"type":"hello"`)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "events", eventJSON(t, poolA, 1)))
	assert.Equal(t, poolA, readEvent(t, conn).Pool)

	// Narrow to pool B, then replay B's stream so the filter is known to
	// be in place before publishing again.
	require.NoError(t, bus.StreamAppend(ctx, "pool:"+poolB.Hex(), eventJSON(t, poolB, 0)))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "pools": []string{poolB.Hex()}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "replay", "pool": poolB.Hex(), "last_id": "0"}))
	replayed := readEvent(t, conn)
	assert.Equal(t, poolB, replayed.Pool)
	assert.Equal(t, uint64(0), replayed.Seq)

	require.NoError(t, bus.Publish(ctx, "events", eventJSON(t, poolA, 2)))
	require.NoError(t, bus.Publish(ctx, "events", eventJSON(t, poolB, 3)))
	got := readEvent(t, conn)
	assert.Equal(t, poolB, got.Pool)
	assert.Equal(t, uint64(3), got.Seq)
}

func TestHubClosesClientsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := memory.NewSignalBus()
	hub := ws.NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), ws.Config{})
	runErr := make(chan error, 1)
	go func() { runErr <- hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.ClientCount())

	// The connected client is dropped rather than left hanging.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.False(t, isTimeout(err), "read ended by timeout: %v", err)

	// Late connections are refused with a going-away close.
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func httpHandler(h *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
