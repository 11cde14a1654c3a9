package notification

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerNotifierWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	n := NewLoggerNotifier(logger)

	err := n.Send(context.Background(), Message{Kind: "LOAD_SUCCESS", Destination: "user-1", Key: "msg-1", Body: []byte(`{"amount":"10"}`)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"kind":"LOAD_SUCCESS"`, `"destination":"user-1"`, `"key":"msg-1"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output %s", want, out)
		}
	}
}

func TestLoggerNotifierNilSafe(t *testing.T) {
	var n *LoggerNotifier
	if err := n.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
}

func TestNATSNotifierSubject(t *testing.T) {
	n := NewNATSNotifier(nil, "bank.ledger.")
	if got := n.Subject("AUTH_FAIL"); got != "bank.ledger.auth_fail" {
		t.Fatalf("unexpected subject %s", got)
	}
	if got := NewNATSNotifier(nil, "").Subject("LOAD_SUCCESS"); got != "ledger.events.load_success" {
		t.Fatalf("unexpected default subject %s", got)
	}
}
