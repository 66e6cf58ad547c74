package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roverlink/signalhub/internal/logging"
)

// ErrEmptyPayload is returned when an image frame carries no base64 data
var ErrEmptyPayload = errors.New("empty image payload")

// Sink consumes still frames sent by clients
type Sink interface {
	// Store persists one frame. data is a base64 data URL
	// ("data:image/png;base64,...") or bare base64 content.
	Store(senderID string, data string) error
}

// FileSink writes decoded frames into a directory, one file per frame
type FileSink struct {
	dir    string
	logger *logging.Logger
	now    func() time.Time
}

// NewFileSink creates a sink writing to dir
func NewFileSink(dir string, logger *logging.Logger) *FileSink {
	return &FileSink{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// Store implements Sink
func (s *FileSink) Store(senderID string, data string) error {
	payload := data
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode image payload: %w", err)
	}

	name := fmt.Sprintf("capture_%s_%s.png", senderID, s.now().Format("20060102T150405.000"))
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	s.logger.Info("image captured",
		"sender_id", senderID,
		"path", path,
		"bytes", len(raw),
	)
	return nil
}
