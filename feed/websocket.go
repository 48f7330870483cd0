package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/metric"
)

const (
	defaultWSBufferSize     = 256
	defaultWSHandshake      = 45 * time.Second
	defaultWSPingInterval   = 30 * time.Second
	defaultWSReconnectDelay = time.Second
	defaultWSMaxReconnect   = 30 * time.Second
	dropReasonWSBufferFull  = "buffer_full"
	dropReasonWSUndecodable = "malformed"
)

// WebSocketConfig configures a WebSocketFeed
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint serving the change stream
	URL string `json:"url"`

	// HandshakeTimeout bounds the dial handshake
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// BufferSize is the event channel capacity
	BufferSize int `json:"buffer_size"`

	// PingInterval is how often keepalive pings are sent. Zero disables.
	PingInterval time.Duration `json:"ping_interval"`

	// MaxReconnectAttempts caps consecutive failed dials before the feed
	// gives up and closes its channel. Zero means retry forever.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`

	// ReconnectDelay is the initial backoff between dials; it doubles per
	// failure up to MaxReconnectDelay
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`
}

func (c *WebSocketConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultWSHandshake
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultWSBufferSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultWSPingInterval
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0 // negative disables keepalives
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultWSReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultWSMaxReconnect
	}
}

// WebSocketFeed is a client-mode feed that dials a change stream endpoint
// and decodes each text frame as one change event. Lost connections are
// redialed with exponential backoff. The event channel closes only on
// Close; an exhausted reconnection budget stops the dial loop but leaves
// the channel open so consumers keep ranging until the owner shuts down.
type WebSocketFeed struct {
	cfg     WebSocketConfig
	logger  *slog.Logger
	metrics *metric.Registry
	name    string

	events chan catalog.Event

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnectAttempts atomic.Int32
	received          atomic.Int64
	dropped           atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	shutdown    chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewWebSocketFeed creates a feed for the given endpoint
func NewWebSocketFeed(cfg WebSocketConfig, registry *metric.Registry, logger *slog.Logger) (*WebSocketFeed, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "WebSocketFeed",
			"NewWebSocketFeed", "URL required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketFeed{
		cfg:      cfg,
		logger:   logger,
		metrics:  registry,
		name:     "websocket",
		events:   make(chan catalog.Event, cfg.BufferSize),
		shutdown: make(chan struct{}),
	}, nil
}

// Events implements Feed
func (f *WebSocketFeed) Events() <-chan catalog.Event {
	return f.events
}

// Start dials the endpoint and begins streaming events
func (f *WebSocketFeed) Start(ctx context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.started {
		return errors.ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.connectLoop(runCtx)
	}()

	f.started = true
	f.logger.Info("websocket feed started", "url", f.cfg.URL)
	return nil
}

// Close tears the connection down and closes the event channel. Idempotent.
func (f *WebSocketFeed) Close() error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.started {
		return nil
	}

	f.closeOnce.Do(func() { close(f.shutdown) })
	if f.cancel != nil {
		f.cancel()
	}

	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	close(f.events)
	f.started = false
	f.logger.Info("websocket feed stopped", "url", f.cfg.URL)
	return nil
}

// Received returns the number of events decoded off the wire
func (f *WebSocketFeed) Received() int64 { return f.received.Load() }

// Dropped returns the number of events shed or discarded
func (f *WebSocketFeed) Dropped() int64 { return f.dropped.Load() }

// connectLoop dials until stopped, handing each live connection to the read
// loop and backing off between failures
func (f *WebSocketFeed) connectLoop(ctx context.Context) {
	dialer := &websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.shutdown:
			return
		default:
		}

		conn, resp, err := dialer.DialContext(ctx, f.cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if !f.shouldReconnect() {
				f.logger.Error("websocket feed giving up after repeated dial failures",
					"url", f.cfg.URL, "error", err)
				return
			}
			delay := f.reconnectDelay()
			f.logger.Warn("websocket dial failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		f.reconnectAttempts.Store(0)
		f.connMu.Lock()
		f.conn = conn
		f.connMu.Unlock()

		f.logger.Info("websocket feed connected", "url", f.cfg.URL)

		pingDone := make(chan struct{})
		if f.cfg.PingInterval > 0 {
			f.wg.Add(1)
			go func() {
				defer f.wg.Done()
				f.pingLoop(ctx, conn, pingDone)
			}()
		}

		f.readLoop(ctx, conn)
		close(pingDone)

		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		_ = conn.Close()

		if !f.shouldReconnect() {
			return
		}
	}
}

// readLoop decodes frames from one connection until it drops
func (f *WebSocketFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.shutdown:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.shutdown:
			default:
				f.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		event, err := catalog.DecodeEvent(message)
		if err != nil {
			f.dropped.Add(1)
			f.countDrop(dropReasonWSUndecodable)
			f.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		f.received.Add(1)
		if f.metrics != nil {
			f.metrics.Core.EventsReceived.WithLabelValues(f.name, string(event.Type)).Inc()
		}

		select {
		case f.events <- event:
		case <-ctx.Done():
			return
		default:
			f.dropped.Add(1)
			f.countDrop(dropReasonWSBufferFull)
			f.logger.Warn("websocket feed consumer lagging, dropping event",
				"item", event.ItemID())
		}
	}
}

// pingLoop keeps the connection alive between events
func (f *WebSocketFeed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// shouldReconnect applies the attempt cap
func (f *WebSocketFeed) shouldReconnect() bool {
	select {
	case <-f.shutdown:
		return false
	default:
	}
	if f.cfg.MaxReconnectAttempts <= 0 {
		f.reconnectAttempts.Add(1)
		return true
	}
	if f.reconnectAttempts.Load() >= int32(f.cfg.MaxReconnectAttempts) {
		return false
	}
	f.reconnectAttempts.Add(1)
	return true
}

// reconnectDelay doubles per consecutive failure up to the cap
func (f *WebSocketFeed) reconnectDelay() time.Duration {
	attempts := f.reconnectAttempts.Load()
	delay := f.cfg.ReconnectDelay
	for i := int32(1); i < attempts; i++ {
		delay *= 2
		if delay >= f.cfg.MaxReconnectDelay {
			return f.cfg.MaxReconnectDelay
		}
	}
	return delay
}

func (f *WebSocketFeed) countDrop(reason string) {
	if f.metrics != nil {
		f.metrics.Core.EventsDropped.WithLabelValues(f.name, reason).Inc()
	}
}
