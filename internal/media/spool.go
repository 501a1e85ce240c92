package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
)

// ErrNothingCaptured is returned when the camera process dropped no frame
// before the capture context ended.
var ErrNothingCaptured = errors.New("no frame captured")

// Spool is a CaptureProvider fed by the camera process, which drops frames
// into dir named <kind>-*.img, writing elsewhere and renaming so a frame is
// never seen half written. Capture waits for the oldest matching frame,
// moves it into the media store and returns its reference.
type Spool struct {
	dir      string
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

var _ ports.CaptureProvider = (*Spool)(nil)

type SpoolOption func(*Spool)

func WithPollInterval(d time.Duration) SpoolOption {
	return func(s *Spool) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) SpoolOption {
	return func(s *Spool) {
		s.logger = logger
	}
}

func NewSpool(dir string, store *Store, opts ...SpoolOption) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	s := &Spool{dir: dir, store: store, interval: 200 * time.Millisecond, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Capture blocks until a frame for the hinted stage appears or ctx ends.
func (s *Spool) Capture(ctx context.Context, hint ports.CaptureHint) (models.ImageRef, error) {
	if hint.SessionID.IsNil() {
		return "", errors.New("capture hint has no session")
	}
	kind := KindDocument
	if hint.Stage == models.StateFaceCapture || hint.Stage == models.StateLivenessCheck {
		kind = KindFace
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		frame, err := s.oldest(kind)
		if err != nil {
			return "", err
		}
		if frame != "" {
			return s.claim(ctx, hint, kind, frame)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNothingCaptured, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Spool) oldest(kind Kind) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("read spool: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, string(kind)+"-") && strings.HasSuffix(name, ".img") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(s.dir, names[0]), nil
}

func (s *Spool) claim(ctx context.Context, hint ports.CaptureHint, kind Kind, frame string) (models.ImageRef, error) {
	f, err := os.Open(frame)
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	ref, err := s.store.Put(ctx, hint.SessionID, kind, f)
	_ = f.Close()
	if err != nil {
		return "", err
	}
	if err := os.Remove(frame); err != nil {
		s.logger.WarnContext(ctx, "spooled frame not removed", "frame", frame, "error", err)
	}
	return ref, nil
}
