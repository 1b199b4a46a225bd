package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/events"
)

func TestSSE_requiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/admin/events", nil)
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidToken.String())
}

func TestSSE_streamsEvents(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		env.srv.URL+"/api/v1/admin/events", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// The first frame confirms the subscription; after it, published
	// events are guaranteed to reach this subscriber.
	frame := readFrame(t, reader)
	if !strings.Contains(frame, "event: connected") {
		t.Fatalf("first frame = %q", frame)
	}

	env.bus.Publish(events.Event{
		Type:   events.EventDispatchSuccess,
		Wallet: testAddr("8a"),
		TxHash: testTxHash,
	})

	frame = readFrame(t, reader)
	if !strings.Contains(frame, "event: dispatch_success") {
		t.Errorf("frame = %q, want dispatch_success event", frame)
	}
	if !strings.Contains(frame, testTxHash) {
		t.Errorf("frame = %q, want tx digest in payload", frame)
	}
}

// readFrame consumes one SSE frame (terminated by a blank line).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var sb strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read failed: %v", err)
		}
		if line == "\n" {
			return sb.String()
		}
		sb.WriteString(line)
	}
}
