package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "ledger.events"

// NATSNotifier publishes each message on <prefix>.<kind>, e.g. ledger.events.auth_success.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSNotifier builds a notifier on an established connection.
func NewNATSNotifier(conn *nats.Conn, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject a message of the given kind is published on.
func (n *NATSNotifier) Subject(kind string) string {
	return n.prefix + "." + strings.ToLower(kind)
}

// Send publishes the message body. The message id travels in the Nats-Msg-Id
// header so JetStream consumers can deduplicate.
func (n *NATSNotifier) Send(_ context.Context, message Message) error {
	msg := nats.NewMsg(n.Subject(message.Kind))
	msg.Data = message.Body
	if message.Key != "" {
		msg.Header.Set(nats.MsgIdHdr, message.Key)
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}
