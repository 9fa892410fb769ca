// Package checkpoint persists RunState snapshots so that paused runs can be
// resumed after arbitrary delays and process restarts.
//
// Supported backends:
//   - Memory: development and tests
//   - File: single-node deployments, one file per run, atomic rename
//   - Redis: distributed deployments, optional TTL
//   - SQL: postgres, mysql or sqlite through gorm
//   - Mongo: one document per run
//   - Object: S3-compatible object storage through minio
//
// Every snapshot is wrapped in a checksummed envelope. A snapshot whose
// checksum does not match is reported as ErrCorrupt rather than loaded.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/pipeflow/state"
)

var (
	ErrNotFound     = errors.New("checkpoint not found")
	ErrCorrupt      = errors.New("checkpoint corrupt")
	ErrInvalidInput = errors.New("invalid input")
	ErrStoreClosed  = errors.New("store is closed")
)

// StoreType selects a backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
	StoreTypeObject StoreType = "object"
)

// Store persists one snapshot per run id. Save overwrites.
type Store interface {
	Save(ctx context.Context, runID string, rs *state.RunState) error
	Load(ctx context.Context, runID string) (*state.RunState, error)
	// Delete is idempotent: deleting an absent run is not an error.
	Delete(ctx context.Context, runID string) error
	// List returns stored run ids in ascending order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// StorageError wraps every backend failure with the operation and run id.
type StorageError struct {
	Op    string
	RunID string
	Err   error
}

func (e *StorageError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.RunID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, runID string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, RunID: runID, Err: err}
}

func validate(runID string, rs *state.RunState) error {
	if runID == "" {
		return storageErr("save", runID, fmt.Errorf("%w: empty run id", ErrInvalidInput))
	}
	if rs == nil {
		return storageErr("save", runID, fmt.Errorf("%w: nil run state", ErrInvalidInput))
	}
	return nil
}
