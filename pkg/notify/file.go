package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harvestly/warden/pkg/model"
)

// FileFormat selects the line format written by a FileChannel.
type FileFormat string

const (
	FormatJSON FileFormat = "json"
	FormatText FileFormat = "text"
)

// FileChannel appends alerts to a log file, one line per alert.
type FileChannel struct {
	mu     sync.Mutex
	path   string
	format FileFormat
}

// NewFileChannel creates a file channel writing to path in the given
// format. The parent directory is created if missing.
func NewFileChannel(path string, format FileFormat) (*FileChannel, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file channel requires a path", ErrChannelConfig)
	}
	switch format {
	case FormatJSON, FormatText:
	case "":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("%w: unknown file format %q", ErrChannelConfig, format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create alert log directory: %w", err)
	}
	return &FileChannel{path: path, format: format}, nil
}

func (f *FileChannel) Name() string { return "file" }

func (f *FileChannel) Send(_ context.Context, alert model.Alert) error {
	var line []byte
	switch f.format {
	case FormatText:
		line = []byte(fmt.Sprintf("%s [%s] %s (%s): %s\n",
			alert.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			alert.Level, alert.Title, alert.Source, alert.Message))
	default:
		b, err := json.Marshal(NewPayload(alert))
		if err != nil {
			return fmt.Errorf("marshal alert line: %w", err)
		}
		line = append(b, '\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("append alert line: %w", err)
	}
	return nil
}
