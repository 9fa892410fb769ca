package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BaSui01/pipeflow/state"
)

const fileExt = ".ckpt"

// FileStore writes one file per run under a directory. Writes go to a
// temporary file that is renamed into place, so readers never observe a
// partial snapshot.
type FileStore struct {
	dir string
	enc *Encoder
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, codec Codec) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: file store requires a directory", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	enc, err := NewEncoder(codec)
	if err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, enc: enc}, nil
}

func (s *FileStore) path(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("%w: run id %q is not a valid file name", ErrInvalidInput, runID)
	}
	return filepath.Join(s.dir, runID+fileExt), nil
}

func (s *FileStore) Save(_ context.Context, runID string, rs *state.RunState) error {
	if err := validate(runID, rs); err != nil {
		return err
	}
	p, err := s.path(runID)
	if err != nil {
		return storageErr("save", runID, err)
	}
	b, err := s.enc.Encode(rs)
	if err != nil {
		return storageErr("save", runID, err)
	}

	tmp, err := os.CreateTemp(s.dir, runID+".*.tmp")
	if err != nil {
		return storageErr("save", runID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storageErr("save", runID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storageErr("save", runID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storageErr("save", runID, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return storageErr("save", runID, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, runID string) (*state.RunState, error) {
	p, err := s.path(runID)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storageErr("load", runID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	rs, err := s.enc.Decode(b)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	return rs, nil
}

func (s *FileStore) Delete(_ context.Context, runID string) error {
	p, err := s.path(runID)
	if err != nil {
		return storageErr("delete", runID, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("delete", runID, err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }
