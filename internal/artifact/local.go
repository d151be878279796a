package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

// LocalStore keeps rendered artifacts as flat files in one directory. Refs are
// bare file names.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewLocalStore: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes data under name. Readers never observe a partial file: content
// goes to a temp file that is renamed into place.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", fmt.Errorf("Put: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("Put: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("Put: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("Put: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("Put: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("Put: rename: %w", err)
	}
	return name, nil
}

func (s *LocalStore) Open(ref string) (*os.File, error) {
	if err := validName(ref); err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Open: %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return f, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid artifact name %q: %w", name, domain.ErrInvalidRequest)
	}
	return nil
}
