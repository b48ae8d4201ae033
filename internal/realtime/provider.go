// Package realtime owns the process-wide event channel connection. Components
// receive the Provider by reference and never dial their own socket.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-client/internal/feed"
	"chat-client/internal/models"
	"chat-client/internal/observability"
)

var (
	ErrAlreadyConnected = errors.New("event channel already connected")
	ErrNotConnected     = errors.New("event channel not connected")
)

// EventChannel is the bidirectional realtime connection to the chat server.
type EventChannel interface {
	Emit(ctx context.Context, ev models.Outbound) error
	Subscribe() *feed.Subscription[models.Inbound]
}

// State is the connection state of a Provider.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Config configures a Provider.
type Config struct {
	URL   string
	Token string

	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	Dialer *websocket.Dialer
}

type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (c *connection) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, payload)
}

func (c *connection) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

// Provider is the single owner of the event channel socket.
type Provider struct {
	cfg Config

	mu    sync.Mutex
	conn  *connection
	state State

	subs   *feed.Set[models.Inbound]
	states *feed.Set[State]
}

// NewProvider creates a disconnected provider.
func NewProvider(cfg Config) *Provider {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		subs:   feed.NewSet[models.Inbound](),
		states: feed.NewSet[State](),
	}
}

// State returns the current connection state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// WatchState delivers every subsequent state change.
func (p *Provider) WatchState() *feed.Subscription[State] {
	return p.states.Add()
}

// Subscribe registers a listener for inbound events. Cancel it on unmount.
func (p *Provider) Subscribe() *feed.Subscription[models.Inbound] {
	return p.subs.Add()
}

// Connect dials the server and starts the read and ping loops.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateConnected, StateConnecting:
		p.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		p.mu.Unlock()
		return models.NewTransportError("connect", errors.New("provider closed"))
	}
	p.setStateLocked(StateConnecting)
	p.mu.Unlock()

	header := http.Header{}
	if p.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	ws, _, err := p.cfg.Dialer.DialContext(ctx, p.cfg.URL, header)
	if err != nil {
		p.mu.Lock()
		if p.state == StateConnecting {
			p.setStateLocked(StateDisconnected)
		}
		p.mu.Unlock()
		return models.NewTransportError("connect", err)
	}

	conn := &connection{ws: ws, stop: make(chan struct{}), done: make(chan struct{})}

	p.mu.Lock()
	if p.state != StateConnecting {
		p.mu.Unlock()
		_ = ws.Close()
		return models.NewTransportError("connect", errors.New("provider closed"))
	}
	p.conn = conn
	p.setStateLocked(StateConnected)
	p.mu.Unlock()

	observability.IncWSActive("event_channel")
	go p.readPump(conn)
	go p.pingLoop(conn)
	log.Printf("event channel connected url=%s", p.cfg.URL)
	return nil
}

// Disconnect closes the current socket. Subscriptions stay registered and
// resume receiving after the next Connect.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	if p.state != StateClosed {
		p.setStateLocked(StateDisconnected)
	}
	p.mu.Unlock()

	if conn != nil {
		conn.shutdown()
		<-conn.done
	}
}

// Close disconnects and cancels every subscription. The provider cannot be
// reconnected afterwards.
func (p *Provider) Close() {
	p.Disconnect()
	p.mu.Lock()
	p.setStateLocked(StateClosed)
	p.mu.Unlock()
	p.subs.CancelAll()
	p.states.CancelAll()
}

// Run keeps the connection up until ctx is done, reconnecting with
// exponential backoff.
func (p *Provider) Run(ctx context.Context) {
	delay := p.cfg.ReconnectDelay
	for {
		err := p.Connect(ctx)
		switch {
		case err == nil:
			delay = p.cfg.ReconnectDelay
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn != nil {
				select {
				case <-conn.done:
				case <-ctx.Done():
					p.Disconnect()
					return
				}
			}
		case errors.Is(err, ErrAlreadyConnected):
		default:
			log.Printf("event channel connect failed, retry_in=%s: %v", delay, err)
		}

		if p.State() == StateClosed {
			return
		}
		select {
		case <-ctx.Done():
			p.Disconnect()
			return
		case <-time.After(delay):
		}
		if err != nil {
			delay *= 2
			if delay > p.cfg.ReconnectMaxDelay {
				delay = p.cfg.ReconnectMaxDelay
			}
		}
	}
}

// Emit sends ev on the live connection.
func (p *Provider) Emit(ctx context.Context, ev models.Outbound) error {
	payload, err := models.EncodeOutbound(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return models.NewTransportError("emit", ErrNotConnected)
	}

	if err := conn.write(websocket.TextMessage, payload); err != nil {
		observability.IncWSEvent("event_channel", "write_error")
		conn.shutdown()
		return models.NewTransportError("emit", err)
	}
	observability.IncWSEvent("event_channel", ev.EventName())
	return nil
}

func (p *Provider) readPump(conn *connection) {
	defer func() {
		conn.shutdown()
		observability.DecWSActive("event_channel")
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
			p.setStateLocked(StateDisconnected)
		}
		p.mu.Unlock()
		close(conn.done)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-conn.stop:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("event_channel", "ws_error")
				}
				log.Printf("event channel read stopped: %v", err)
			}
			return
		}

		ev, err := models.DecodeInbound(raw)
		if err != nil {
			if !errors.Is(err, models.ErrUnknownEvent) {
				log.Printf("event channel decode failed: %v", err)
			}
			continue
		}
		observability.IncWSEvent("event_channel", inboundName(ev))
		p.subs.Publish(ev)
	}
}

func (p *Provider) pingLoop(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-conn.stop:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			conn.writeMu.Unlock()
			if err != nil {
				conn.shutdown()
				return
			}
		}
	}
}

func (p *Provider) setStateLocked(s State) {
	if p.state == s {
		return
	}
	p.state = s
	p.states.Publish(s)
}

func inboundName(ev models.Inbound) string {
	switch ev.(type) {
	case models.NewMessage:
		return models.EventNewMessage
	case models.MessageEdited:
		return models.EventMessageEdited
	case models.MessageDeleted:
		return models.EventMessageDeleted
	default:
		return "unknown"
	}
}
