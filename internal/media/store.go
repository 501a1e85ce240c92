// Package media stores captured images on the device and hands out opaque
// references to them.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// MaxImageBytes bounds a single capture.
const MaxImageBytes = 16 << 20

// Kind names what an image shows.
type Kind string

const (
	KindDocument Kind = "document"
	KindFace     Kind = "face"
)

// Store writes images under root/<session>/<kind>-<uuid>.img. References are
// paths relative to root, so the oracles can resolve them against the same
// directory.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Put copies r into a new file and returns its reference. Empty or oversized
// images are rejected.
func (s *Store) Put(ctx context.Context, sessionID id.SessionID, kind Kind, r io.Reader) (models.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := filepath.Join(sessionID.String(), string(kind)+"-"+uuid.NewString()+".img")
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("create session media dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, MaxImageBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("write image: %w", err)
	case closeErr != nil:
		err = fmt.Errorf("write image: %w", closeErr)
	case n == 0:
		err = dErrors.New(dErrors.CodeInvalidInput, "image is empty")
	case n > MaxImageBytes:
		err = dErrors.New(dErrors.CodeInvalidInput, "image is too large")
	}
	if err != nil {
		_ = os.Remove(full)
		return "", err
	}
	return models.ImageRef(filepath.ToSlash(rel)), nil
}

// Path resolves ref to a file under root.
func (s *Store) Path(ref models.ImageRef) (string, error) {
	rel := filepath.FromSlash(string(ref))
	if ref == "" || filepath.IsAbs(rel) || strings.HasPrefix(filepath.Clean(rel), "..") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid image reference")
	}
	return filepath.Join(s.root, rel), nil
}

// Open returns the image behind ref.
func (s *Store) Open(ref models.ImageRef) (io.ReadCloser, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, dErrors.New(dErrors.CodeNotFound, "image not found")
	}
	return f, err
}

// Remove deletes the image behind ref. A missing image is not an error.
func (s *Store) Remove(ref models.ImageRef) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// DeleteSession removes every image of a session.
func (s *Store) DeleteSession(sessionID id.SessionID) error {
	return os.RemoveAll(filepath.Join(s.root, sessionID.String()))
}
