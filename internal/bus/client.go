package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"speecheval/internal/config"
	"speecheval/internal/logging"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    config.Bus
	logger *slog.Logger
}

// Connect dials the configured NATS servers.
func Connect(ctx context.Context, cfg config.Bus, logger *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "bus"))

	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && (timeout <= 0 || remaining < timeout) {
			timeout = remaining
		}
	}
	options := []nats.Option{
		nats.Name("speecheval"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err), logging.String(logging.FieldEventType, "bus_disconnected"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", logging.String("server", nc.ConnectedUrl()))
		}),
	}
	if timeout > 0 {
		options = append(options, nats.Timeout(timeout))
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	logger.Info("connected to NATS", logging.String("servers", url))
	return &Client{conn: conn, js: js, cfg: cfg, logger: logger}, nil
}

// Close drains the connection so in-flight publishes are flushed.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.logger.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.logger.Debug("drain NATS connection", logging.Error(err))
	}
	c.conn.Close()
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Conn exposes the raw connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// JetStream exposes the JetStream context.
func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

func (c *Client) subject(parts ...string) string {
	return c.cfg.SubjectPrefix + "." + strings.Join(parts, ".")
}
