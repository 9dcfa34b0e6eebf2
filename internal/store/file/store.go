// Package file stores each board as an indented JSON document under a data
// directory, one file per board id.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

const ext = ".json"

type Store struct {
	dir string
}

// New creates the data directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("file.New: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, fmt.Errorf("file.Store.Exists: %w", err)
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("file.Store.Exists: %w", err)
	}
	return true, nil
}

func (s *Store) Read(_ context.Context, id string) (*domain.Board, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, fmt.Errorf("file.Store.Read: %w", err)
	}
	return readFile(p)
}

// Write replaces the stored document atomically: the new content is written
// to a temporary file in the same directory and renamed over the old one.
func (s *Store) Write(_ context.Context, b *domain.Board) error {
	p, err := s.path(b.ID)
	if err != nil {
		return fmt.Errorf("file.Store.Write: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("file.Store.Write: encode: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+b.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("file.Store.Write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file.Store.Write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file.Store.Write: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file.Store.Write: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("file.Store.Write: rename: %w", err)
	}

	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return fmt.Errorf("file.Store.Delete: %w", err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file.Store.Delete: %w", err)
	}
	return nil
}

// List returns every decodable board sorted by id. Undecodable files are
// skipped with a warning.
func (s *Store) List(_ context.Context) ([]*domain.Board, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file.Store.List: %w", err)
	}

	boards := make([]*domain.Board, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}

		b, readErr := readFile(filepath.Join(s.dir, name))
		if readErr != nil {
			log.Warn().Err(readErr).Str("file", name).Msg("file store: skipping unreadable board")
			continue
		}
		if b.ID == "" {
			b.ID = strings.TrimSuffix(name, ext)
		}
		boards = append(boards, b)
	}

	sort.Slice(boards, func(i, j int) bool { return boards[i].ID < boards[j].ID })
	return boards, nil
}

func (s *Store) path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+ext), nil
}

func readFile(p string) (*domain.Board, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file.Store.Read: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("file.Store.Read: %w", err)
	}

	b, err := domain.ParseBoard(data)
	if err != nil {
		return nil, fmt.Errorf("file.Store.Read: %w: %w", domain.ErrCorrupt, err)
	}
	return b, nil
}

// ValidateID rejects ids that would escape the data directory or collide with
// temporary files.
func ValidateID(id string) error {
	if id == "" || len(id) > 128 || strings.HasPrefix(id, ".") {
		return fmt.Errorf("board id %q: %w", id, domain.ErrInvalidInput)
	}
	for _, r := range id {
		ok := r == '-' || r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("board id %q: %w", id, domain.ErrInvalidInput)
		}
	}
	return nil
}
