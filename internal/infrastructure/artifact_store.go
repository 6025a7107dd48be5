package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"convertapi/internal/interfaces"
)

var ErrArtifactNotFound = errors.New("artifact not found")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// artifactKey builds a collision-free storage key that keeps the original name readable.
func artifactKey(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "file"
	}
	if len(base) > 120 {
		base = base[len(base)-120:]
	}
	return NewJobID() + "_" + base
}

// LocalArtifactStore keeps artifacts as flat files under one directory.
type LocalArtifactStore struct {
	dir string
}

func NewLocalArtifactStore(dir string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalArtifactStore{dir: dir}, nil
}

func (s *LocalArtifactStore) Save(ctx context.Context, name string, r io.Reader) (interfaces.Artifact, error) {
	key := artifactKey(name)
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return interfaces.Artifact{}, fmt.Errorf("create artifact: %w", err)
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return interfaces.Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	return interfaces.Artifact{Ref: key, Size: n}, nil
}

func (s *LocalArtifactStore) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrArtifactNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact: %w", err)
	}
	return f, info.Size(), nil
}

func (s *LocalArtifactStore) Delete(ctx context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// path rejects refs that would resolve outside the store directory.
func (s *LocalArtifactStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", ErrArtifactNotFound
	}
	return filepath.Join(s.dir, ref), nil
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
