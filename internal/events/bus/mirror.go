package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/events"
)

// Mirror republishes every event onto a NATS subject so external consumers
// can follow the stream without holding an HTTP or WebSocket connection.
// Publishing is fire-and-forget: a broker outage never blocks the engine.
type Mirror struct {
	conn    *nats.Conn
	prefix  string
	log     *logger.Logger
	enabled bool
}

// NewMirror connects to the NATS server at url. An empty url returns a
// disabled mirror whose Publish is a no-op.
func NewMirror(url, subjectPrefix string, log *logger.Logger) (*Mirror, error) {
	if url == "" {
		return &Mirror{log: log}, nil
	}
	if subjectPrefix == "" {
		subjectPrefix = "opengate.events"
	}

	conn, err := nats.Connect(url,
		nats.Name("opengate-event-mirror"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	log.Info("Connected to NATS", zap.String("url", url), zap.String("subject_prefix", subjectPrefix))
	return &Mirror{
		conn:    conn,
		prefix:  subjectPrefix,
		log:     log,
		enabled: true,
	}, nil
}

// Enabled reports whether the mirror has a live broker connection.
func (m *Mirror) Enabled() bool {
	return m.enabled
}

// Publish sends the event to <prefix>.<event_type> as JSON. Errors are
// logged and swallowed.
func (m *Mirror) Publish(evt *events.Event) {
	if !m.enabled {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		m.log.Error("Failed to marshal event for NATS", zap.String("event_type", evt.EventType), zap.Error(err))
		return
	}
	subject := m.prefix + "." + evt.EventType
	if err := m.conn.Publish(subject, data); err != nil {
		m.log.Error("Failed to publish event to NATS", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection so buffered publishes flush before shutdown.
func (m *Mirror) Close() {
	if !m.enabled {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.log.Warn("Failed to drain NATS connection", zap.Error(err))
	}
}
