package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"optionchain/native/options"
)

func TestEventStreamWebSocket(t *testing.T) {
	env := newTestEnv(t)
	id := createAuctionViaRPC(t, env)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The backlog replays the creation event first.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	var entry eventJSON
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Seq != 1 || entry.Type != options.EventTypeAuctionCreated {
		t.Fatalf("backlog entry = %+v", entry)
	}
	if entry.Attributes["escrowId"] != id {
		t.Fatalf("escrowId = %s want %s", entry.Attributes["escrowId"], id)
	}

	// An event emitted after the subscription arrives live.
	_, rpcErr := env.call(t, "options_bid", true, map[string]interface{}{
		"id":      id,
		"bidder":  hexBidder,
		"relBid":  "10000000000000000",
		"refSpot": "2000000000",
	})
	if rpcErr != nil {
		t.Fatalf("bid: %+v", rpcErr)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decode live: %v", err)
	}
	if entry.Seq != 2 || entry.Type != options.EventTypeAuctionMatched {
		t.Fatalf("live entry = %+v", entry)
	}
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?cursor=abc"
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatalf("expected dial to fail on bad cursor")
	}
}
