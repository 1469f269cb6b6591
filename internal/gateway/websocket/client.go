package websocket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/task/models"
)

const (
	// Deadline for a single outbound write.
	writeWait = 10 * time.Second

	// Deadline for the client's auth frame after connecting.
	authWait = 10 * time.Second

	// Interval between server keepalive ping frames. Liveness is in-band:
	// a dead peer is detected when a keepalive write misses its deadline,
	// so clients are not required to answer.
	pingPeriod = 30 * time.Second

	// Control frames are small; anything bigger is a client bug.
	maxMessageSize = 32 * 1024

	// Outbound frame buffer per client. When it fills, the forwarder
	// blocks and the broadcaster's per-subscriber drop counter takes
	// over, which is what feeds the events_lagged notice.
	sendBuffer = 64
)

// subscription is one subscribe request: a set of event type patterns
// plus an optional filter.
type subscription struct {
	id       int64
	patterns []string
	filter   *EventFilter
}

// matches reports whether evt passes the subscription's patterns and
// filter for a client authenticated as self.
func (s *subscription) matches(evt *events.Event, self models.Actor) bool {
	hit := false
	for _, p := range s.patterns {
		if events.MatchPattern(p, evt.EventType) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	if s.filter == nil {
		return true
	}
	if s.filter.ProjectID != "" && evt.ProjectID != s.filter.ProjectID {
		return false
	}
	if s.filter.AgentID != "" {
		agentID := s.filter.AgentID
		if agentID == "self" {
			agentID = self.ID
		}
		if agentID == "" || !concernsAgent(evt, agentID) {
			return false
		}
	}
	return true
}

// concernsAgent reports whether the agent appears in the event, either
// as the actor or as one of the referenced parties in the payload.
func concernsAgent(evt *events.Event, agentID string) bool {
	if evt.Actor.Type == models.ActorAgent && evt.Actor.ID == agentID {
		return true
	}
	for _, key := range []string{"assignee_id", "reviewer_id", "from_agent_id", "to_agent_id"} {
		if v, ok := evt.Payload[key].(string); ok && v == agentID {
			return true
		}
	}
	return false
}

// Client is one authenticated socket. Three goroutines cooperate: the
// read pump handles inbound frames, the write pump owns the connection's
// write side, and the forwarder drains the broadcaster subscription.
type Client struct {
	gw       *Gateway
	conn     *websocket.Conn
	sub      *bus.Subscription
	identity models.Actor

	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	subs    map[int64]*subscription
	nextSub int64
}

func newClient(gw *Gateway, conn *websocket.Conn, sub *bus.Subscription, identity models.Actor) *Client {
	return &Client{
		gw:       gw,
		conn:     conn,
		sub:      sub,
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		subs:     make(map[int64]*subscription),
	}
}

// teardown releases the connection and its broadcaster subscription.
// Safe to call from any pump; only the first call does the work.
func (c *Client) teardown() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
		c.gw.clientGone(c)
	})
}

// readPump consumes client frames until the connection drops.
func (c *Client) readPump() {
	defer c.teardown()
	c.conn.SetReadLimit(maxMessageSize)
	// The auth deadline no longer applies once the session is up.
	c.conn.SetReadDeadline(time.Time{})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.gw.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError(codeBadFrame, "frame is not valid JSON")
		return
	}
	switch frame.Type {
	case framePing:
		c.enqueue(ackFrame{Type: framePong})
	case framePong:
		// A polite reply to our keepalive. Nothing to do.
	case frameSubscribe:
		c.subscribe(&frame)
	case frameUnsubscribe:
		c.unsubscribe(frame.ID)
	case frameAuth:
		c.sendError(codeBadFrame, "already authenticated")
	default:
		c.sendError(codeBadFrame, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (c *Client) subscribe(frame *inboundFrame) {
	patterns := make([]string, 0, len(frame.Events))
	for _, p := range frame.Events {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		c.sendError(codeBadFrame, "subscribe needs at least one event pattern")
		return
	}
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = &subscription{id: id, patterns: patterns, filter: frame.Filter}
	c.mu.Unlock()
	c.enqueue(ackFrame{Type: frameSubscribed, ID: id})
}

func (c *Client) unsubscribe(id int64) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		c.sendError(codeUnknownSub, fmt.Sprintf("no subscription %d", id))
		return
	}
	c.enqueue(ackFrame{Type: frameUnsubscribed, ID: id})
}

// forward drains the broadcaster subscription and fans events out to the
// client's matching subscriptions. Dropped events surface as a one-shot
// events_lagged error carrying the count.
func (c *Client) forward() {
	defer c.teardown()
	for {
		select {
		case evt, ok := <-c.sub.C():
			if !ok {
				return
			}
			if dropped := c.sub.TakeLagged(); dropped > 0 {
				c.enqueue(errorFrame{
					Type:    frameError,
					Code:    codeEventsLagged,
					Message: fmt.Sprintf("%d events dropped; resubscribe or poll the event log to catch up", dropped),
					Dropped: dropped,
				})
			}
			c.deliver(evt)
		case <-c.done:
			return
		}
	}
}

func (c *Client) deliver(evt *events.Event) {
	c.mu.Lock()
	var hit []int64
	for id, s := range c.subs {
		if s.matches(evt, c.identity) {
			hit = append(hit, id)
		}
	}
	c.mu.Unlock()
	if len(hit) == 0 {
		return
	}
	// Map order is random; clients see frames in subscription order.
	sort.Slice(hit, func(i, j int) bool { return hit[i] < hit[j] })
	for _, id := range hit {
		c.enqueue(eventFrame{Type: frameEvent, Sub: id, Event: evt.EventType, Data: evt})
	}
}

// writePump owns the write side: queued frames plus the keepalive ping.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()
	for {
		select {
		case data := <-c.send:
			if !c.write(data) {
				return
			}
		case <-ticker.C:
			if !c.write(keepalivePing) {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

var keepalivePing = []byte(`{"type":"ping"}`)

func (c *Client) write(data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.gw.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

// enqueue hands a frame to the write pump. It blocks when the buffer is
// full so backpressure lands on the broadcaster subscription, where drops
// are counted instead of silently lost.
func (c *Client) enqueue(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *Client) sendError(code, msg string) {
	c.enqueue(errorFrame{Type: frameError, Code: code, Message: msg})
}
