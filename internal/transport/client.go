package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ClientConfig configures a Client's dial and reconnect behavior.
type ClientConfig struct {
	URL            string
	SendQueueDepth int
	MaxFrameBytes  int64
	TLSConfig      *tls.Config

	// MaxReconnectAttempts bounds auto-reconnect attempts after the initial
	// connection is lost. Zero means unlimited.
	MaxReconnectAttempts uint64
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultClientConfig returns sensible reconnect defaults.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:                  url,
		SendQueueDepth:       DefaultSendQueueDepth,
		MaxFrameBytes:        DefaultMaxFrameBytes,
		MaxReconnectAttempts: 20,
		InitialBackoff:       250 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
	}
}

// Client dials a transport Server and keeps the connection alive across
// drops using an exponential backoff reconnect loop; on giving up it emits
// a terminal OnDisconnect with reason "max-attempts".
type Client struct {
	cfg ClientConfig
	log zerolog.Logger
	dialer websocket.Dialer

	OnConnect    func(*Connection)
	OnDisconnect func(reason string)

	current *Connection
}

// NewClient creates a Client for the given configuration.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = DefaultSendQueueDepth
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &Client{
		cfg: cfg,
		log: log,
		dialer: websocket.Dialer{
			Subprotocols:    []string{Subprotocol},
			TLSClientConfig: cfg.TLSConfig,
		},
	}
}

// Connect dials once and returns the established Connection without
// starting the reconnect loop; the caller starts its pumps via
// Connection.Start (typically in a goroutine).
func (c *Client) Connect(ctx context.Context) (*Connection, error) {
	wsConn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", c.cfg.URL, err)
	}
	conn := NewConnection("client", wsConn, c.log, c.cfg.SendQueueDepth, c.cfg.MaxFrameBytes)
	c.current = conn
	return conn, nil
}

// Run dials, starts the connection's pumps, and on disconnect reconnects
// with exponential backoff up to MaxReconnectAttempts. configure is called
// with each newly-established Connection to wire its handlers before
// Start(); it runs again on every successful reconnect.
func (c *Client) Run(ctx context.Context, configure func(*Connection)) error {
	for {
		conn, err := c.dialWithBackoff(ctx)
		if err != nil {
			if c.OnDisconnect != nil {
				c.OnDisconnect("max-attempts")
			}
			return err
		}

		disconnected := make(chan string, 1)
		conn.OnDisconnect = func(_ *Connection, reason string) {
			select {
			case disconnected <- reason:
			default:
			}
		}
		configure(conn)
		if c.OnConnect != nil {
			c.OnConnect(conn)
		}

		go conn.Start()

		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case reason := <-disconnected:
			c.log.Warn().Str("reason", reason).Msg("transport: connection lost, reconnecting")
			if c.OnDisconnect != nil {
				c.OnDisconnect(reason)
			}
		}
	}
}

func (c *Client) dialWithBackoff(ctx context.Context) (*Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // bounded by MaxReconnectAttempts instead

	var bo backoff.BackOff = b
	if c.cfg.MaxReconnectAttempts > 0 {
		bo = backoff.WithMaxRetries(b, c.cfg.MaxReconnectAttempts)
	}
	bo = backoff.WithContext(bo, ctx)

	var conn *Connection
	err := backoff.Retry(func() error {
		wsConn, _, dialErr := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if dialErr != nil {
			c.log.Debug().Err(dialErr).Msg("transport: dial attempt failed")
			return dialErr
		}
		conn = NewConnection("client", wsConn, c.log, c.cfg.SendQueueDepth, c.cfg.MaxFrameBytes)
		return nil
	}, bo)

	if err != nil {
		return nil, fmt.Errorf("transport: giving up dialing %s: %w", c.cfg.URL, err)
	}
	c.current = conn
	return conn, nil
}

// Close closes the current connection, if any.
func (c *Client) Close() error {
	if c.current != nil {
		return c.current.Close()
	}
	return nil
}
