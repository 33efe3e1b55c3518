// Package relay implements the persistent websocket connection to the
// backend relay that bridges operator and remote agent.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/monitorpro/console/pkg/errorsx"
	"github.com/monitorpro/console/pkg/frames"
	"github.com/monitorpro/console/pkg/metrics"
)

type Config struct {
	URL            string        `mapstructure:"url"`
	ClientType     string        `mapstructure:"client_type"`
	ReconnectDelay time.Duration `mapstructure:"-"`
	RecvBuffer     int           `mapstructure:"recv_buffer"`
}

func (c Config) withDefaults() Config {
	if c.ClientType == "" {
		c.ClientType = "parent"
	}
	if c.ReconnectDelay <= 0 {
		// Fixed delay, unbounded retries. Deliberately no backoff growth:
		// the relay link is expected to flap and always come back.
		c.ReconnectDelay = 3 * time.Second
	}
	if c.RecvBuffer <= 0 {
		c.RecvBuffer = 512
	}
	return c
}

type handshake struct {
	ClientType string `json:"clientType"`
	DeviceID   string `json:"deviceId"`
}

// Client owns the connection lifecycle: dial, handshake, read loop,
// scheduled reconnect. A malformed handshake, an unreachable relay and an
// ordinary network blip all route into the same reconnect loop; the caller
// cannot tell them apart and does not need to.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	observer metrics.Observer
	recvCh   chan frames.Frame

	mu       sync.Mutex
	deviceID string
	conn     *websocket.Conn
	timer    *time.Timer
	closed   bool
	opened   bool

	wg sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger, observer metrics.Observer) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		recvCh:   make(chan frames.Frame, cfg.RecvBuffer),
	}
}

func (c *Client) Name() string { return "relay" }

func (c *Client) Recv() <-chan frames.Frame { return c.recvCh }

// Open starts the connection loop for one device. Exactly one Client is
// live per selected device; switching devices closes this one and creates
// a replacement.
func (c *Client) Open(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return errorsx.Wrap(errAlreadyOpen, errorsx.ReasonRelayDial)
	}
	c.opened = true
	c.deviceID = deviceID
	c.mu.Unlock()
	c.connect(ctx)
	return nil
}

// Close tears down the transport and cancels any pending reconnect timer.
// It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) connect(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	deviceID := c.deviceID
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn("relay_dial_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonRelayDial),
		)
		c.scheduleReconnect(ctx)
		return
	}

	if err := conn.WriteJSON(handshake{ClientType: c.cfg.ClientType, DeviceID: deviceID}); err != nil {
		c.logger.Warn("relay_handshake_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonRelayHandshake),
		)
		_ = conn.Close()
		c.scheduleReconnect(ctx)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("relay_connected", "device_id", deviceID)
	c.emit(frames.NewSystemFrame(time.Now(), frames.SystemRelayConnected))

	c.wg.Add(1)
	go c.readLoop(ctx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if closed {
				return
			}
			c.logger.Warn("relay_connection_lost",
				"error", err.Error(),
				"reason_code", string(errorsx.ReasonRelayRead),
			)
			c.emit(frames.NewSystemFrame(time.Now(), frames.SystemRelayDisconnected))
			c.scheduleReconnect(ctx)
			return
		}
		now := time.Now()
		switch msgType {
		case websocket.BinaryMessage:
			c.observer.RecordEvent(metrics.IngestEvent{
				Name: "frame_in", Time: now,
				Tags: map[string]string{"kind": "binary"},
			})
			c.emit(frames.NewBinaryFrameFromPool(now, payload))
		case websocket.TextMessage:
			c.observer.RecordEvent(metrics.IngestEvent{
				Name: "frame_in", Time: now,
				Tags: map[string]string{"kind": "text"},
			})
			c.emit(frames.NewTextFrame(now, payload))
		}
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.timer != nil {
		return
	}
	c.observer.RecordEvent(metrics.IngestEvent{Name: "reconnect_scheduled", Time: time.Now()})
	c.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		c.connect(ctx)
	})
}

// emit drops the frame when the consumer falls behind rather than blocking
// the read loop.
func (c *Client) emit(f frames.Frame) {
	select {
	case c.recvCh <- f:
	default:
		c.logger.Warn("relay_recv_buffer_full")
	}
}

type relayErr string

func (e relayErr) Error() string { return string(e) }

const errAlreadyOpen = relayErr("relay client already opened")
