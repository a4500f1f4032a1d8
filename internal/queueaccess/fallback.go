package queueaccess

import (
	"errors"
	"fmt"

	"speecheval/internal/api"
	"speecheval/internal/config"
	"speecheval/internal/queue"
)

// Session is an Access plus whatever must be released when the command ends.
type Session struct {
	Access Access
	// Remote is true when requests go to a running daemon.
	Remote bool
	close  func() error
}

func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback prefers the daemon API and opens the job database only
// when no daemon answers. A daemon that answers but rejects the health check (for
// example a token mismatch) is reported rather than bypassed.
func OpenWithFallback(
	cfg *config.Config,
	dial func() (*api.Client, error),
	openStore func() (*queue.Store, error),
) (Session, error) {
	if dial != nil {
		client, err := dial()
		switch {
		case err == nil:
			return Session{Access: NewAPIAccess(client), Remote: true}, nil
		case !errors.Is(err, api.ErrUnavailable):
			return Session{}, fmt.Errorf("contact daemon: %w", err)
		}
	}
	if openStore == nil {
		return Session{}, errors.New("open job store: no store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open job store: %w", err)
	}
	return Session{Access: NewStoreAccess(store, cfg), close: store.Close}, nil
}
