package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"speecheval/internal/config"
	"speecheval/internal/logging"
)

// EmbeddedServer is an in-process NATS server with JetStream enabled.
type EmbeddedServer struct {
	ns     *server.Server
	logger *slog.Logger
}

// StartEmbedded starts a local NATS server bound to loopback. It returns
// nil when the bus is not configured as embedded.
func StartEmbedded(cfg *config.Config, logger *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Bus.Embedded {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	opts := &server.Options{
		ServerName: "speecheval",
		Host:       "127.0.0.1",
		Port:       cfg.Bus.Port,
		JetStream:  true,
		StoreDir:   cfg.BusStoreDir(),
		NoSigs:     true,
		NoLog:      true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server failed to start within 5 seconds")
	}

	logger.Info("embedded NATS server started",
		logging.String("url", ns.ClientURL()),
		logging.String("store_dir", opts.StoreDir),
	)
	return &EmbeddedServer{ns: ns, logger: logger}, nil
}

// ClientURL returns the address clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.logger.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
