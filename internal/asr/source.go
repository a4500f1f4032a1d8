package asr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
)

// maxAudioBytes bounds a single segment download.
const maxAudioBytes = 64 << 20

// Source loads the audio behind a segment storage reference.
type Source interface {
	Load(ctx context.Context, ref string) (Audio, error)
}

// FileOrHTTPSource resolves plain paths, file:// URLs, and http(s) URLs.
type FileOrHTTPSource struct {
	HTTP *http.Client
}

// Load implements Source.
func (s FileOrHTTPSource) Load(ctx context.Context, ref string) (Audio, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Audio{}, fmt.Errorf("load audio: empty storage reference")
	}
	u, err := url.Parse(ref)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return s.fetch(ctx, u)
		case "file":
			return readFile(u.Path)
		}
	}
	return readFile(ref)
}

func (s FileOrHTTPSource) fetch(ctx context.Context, u *url.URL) (Audio, error) {
	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Audio{}, fmt.Errorf("load audio: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("load audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Audio{}, fmt.Errorf("load audio: %s returned %s", u.Redacted(), resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Audio{}, fmt.Errorf("load audio: %w", err)
	}
	return Audio{Name: path.Base(u.Path), Data: data}, nil
}

func readFile(p string) (Audio, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Audio{}, fmt.Errorf("load audio: %w", err)
	}
	return Audio{Name: path.Base(p), Data: data}, nil
}
