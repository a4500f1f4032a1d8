package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxLineBytes        = 1024 * 1024
	defaultPollInterval = 250 * time.Millisecond
)

// CurrentPath is the pointer the daemon keeps at its active run log.
func CurrentPath(logDir string) string {
	return filepath.Join(logDir, "speecheval.log")
}

// Filter reports whether a line should be shown. A nil Filter keeps all lines.
type Filter func(line string) bool

// JobFilter keeps lines that mention jobID.
func JobFilter(jobID string) Filter {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil
	}
	return func(line string) bool { return strings.Contains(line, jobID) }
}

// Tail returns up to limit trailing lines that pass filter, plus the end
// offset to resume following from. A missing file yields no lines.
func Tail(path string, limit int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, 0, limit)
	end, err := scanFrom(file, 0, func(line string) {
		if filter != nil && !filter(line) {
			return
		}
		if len(ring) == limit {
			ring = append(ring[1:], line)
			return
		}
		ring = append(ring, line)
	})
	if err != nil {
		return nil, 0, err
	}
	return ring, end, nil
}

// Follow polls path from offset and calls emit for each new line that passes
// filter until ctx ends. A file that shrinks is treated as replaced and read
// from the start.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, filter Filter, emit func(string)) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := readNew(path, offset, filter, emit)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readNew(path string, offset int64, filter Filter, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	return scanFrom(file, offset, func(line string) {
		if filter == nil || filter(line) {
			emit(line)
		}
	})
}

// scanFrom reads whole lines starting at offset. A trailing partial line is
// left for the next read.
func scanFrom(file *os.File, offset int64, fn func(string)) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}
