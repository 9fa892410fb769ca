package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/pipeflow/goal"
	"github.com/BaSui01/pipeflow/state"
)

// corrupt flips one payload byte of a stored snapshot, leaving the
// checksum untouched.
func (s *MemoryStore) corrupt(t *testing.T, runID string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var env envelope
	require.NoError(t, json.Unmarshal(s.data[runID], &env))
	env.Payload[len(env.Payload)/2] ^= 0x01
	b, err := json.Marshal(&env)
	require.NoError(t, err)
	s.data[runID] = b
}

func pausedRun(id string) *state.RunState {
	rs := state.NewRun(id, "blog-writer-agent-graph", "intake", state.Context{
		"topic":      "go generics",
		"word_count": float64(1200),
		"research.sources": []any{
			map[string]any{"url": "https://go.dev/blog", "trusted": true},
		},
	})
	rs.GraphVersion = "1.0.0"
	rs.Iterations = 4
	rs.Advance("intake-to-research", "research", true)
	rs.Advance("research-to-positioning", "positioning", true)
	rs.Advance("positioning-to-outline-review", "outline_review", true)
	rs.Status = state.StatusPaused
	rs.PendingOutcome = &state.Outcome{
		Success:   true,
		Data:      map[string]any{"outline": "1. intro", "sections": float64(3)},
		ToolCalls: 2,
		Duration:  150 * time.Millisecond,
	}
	return rs
}

func completedRun(id string) *state.RunState {
	rs := pausedRun(id)
	rs.Status = state.StatusSucceeded
	rs.PendingOutcome = nil
	rs.Score = &goal.Result{
		GoalID:  "blog-writer",
		Overall: 0.6,
		Criteria: []goal.CriterionResult{
			{ID: "source-quality", Metric: "source_count", Target: ">=5", Weight: 0.2, Observed: float64(6), Met: true, Score: 1},
		},
	}
	return rs
}

// requireSameRun compares snapshots field by field; timestamps may come
// back in a different location depending on the codec.
func requireSameRun(t *testing.T, want, got *state.RunState) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.GraphID, got.GraphID)
	assert.Equal(t, want.GraphVersion, got.GraphVersion)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.CurrentStep, got.CurrentStep)
	assert.Equal(t, want.Context, got.Context)
	assert.Equal(t, want.Iterations, got.Iterations)
	assert.Equal(t, want.Transitions, got.Transitions)
	assert.Equal(t, want.Visits, got.Visits)
	assert.Equal(t, want.PendingOutcome, got.PendingOutcome)
	assert.Equal(t, want.Approved, got.Approved)
	assert.Equal(t, want.Failure, got.Failure)
	assert.Equal(t, want.Score, got.Score)
	require.Len(t, got.History, len(want.History))
	for i := range want.History {
		assert.Equal(t, want.History[i].TransitionID, got.History[i].TransitionID)
		assert.True(t, want.History[i].At.Equal(got.History[i].At))
	}
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}

// testStore runs the behaviour every backend must share.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "load", se.Op)
		assert.Equal(t, "missing", se.RunID)
	})

	t.Run("save and load", func(t *testing.T) {
		want := pausedRun("run-1")
		require.NoError(t, s.Save(ctx, "run-1", want))
		got, err := s.Load(ctx, "run-1")
		require.NoError(t, err)
		requireSameRun(t, want, got)
	})

	t.Run("save overwrites", func(t *testing.T) {
		want := completedRun("run-1")
		require.NoError(t, s.Save(ctx, "run-1", want))
		got, err := s.Load(ctx, "run-1")
		require.NoError(t, err)
		requireSameRun(t, want, got)
	})

	t.Run("loaded state is independent", func(t *testing.T) {
		got, err := s.Load(ctx, "run-1")
		require.NoError(t, err)
		got.Context["topic"] = "changed"
		again, err := s.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "go generics", again.Context["topic"])
	})

	t.Run("list sorted", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "run-3", pausedRun("run-3")))
		require.NoError(t, s.Save(ctx, "run-2", pausedRun("run-2")))
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run-1", "run-2", "run-3"}, ids)
	})

	t.Run("delete idempotent", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "run-2"))
		require.NoError(t, s.Delete(ctx, "run-2"))
		_, err := s.Load(ctx, "run-2")
		assert.ErrorIs(t, err, ErrNotFound)
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run-1", "run-3"}, ids)
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.ErrorIs(t, s.Save(ctx, "", pausedRun("x")), ErrInvalidInput)
		assert.ErrorIs(t, s.Save(ctx, "x", nil), ErrInvalidInput)
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Save(context.Background(), "r", pausedRun("r")), ErrStoreClosed)
	_, err := s.Load(context.Background(), "r")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, "r", pausedRun("r")))
	s.corrupt(t, "r")

	_, err := s.Load(ctx, "r")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileStore(t *testing.T) {
	for _, codec := range []Codec{CodecJSON, CodecMsgpack} {
		t.Run(string(codec), func(t *testing.T) {
			s, err := NewFileStore(t.TempDir(), codec)
			require.NoError(t, err)
			testStore(t, s)
		})
	}
}

func TestFileStore_RejectsPathSeparators(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), CodecJSON)
	require.NoError(t, err)
	err = s.Save(context.Background(), "../escape", pausedRun("x"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFileStore_TruncatedFileIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, CodecJSON)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "r", pausedRun("r")))

	p := filepath.Join(dir, "r"+fileExt)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, b[:len(b)/2], 0o644))

	_, err = s.Load(ctx, "r")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStore_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, CodecJSON)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, s.Save(context.Background(), "r", pausedRun("r")))

	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, ids)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := setupTestRedis(t)
	s, err := NewRedisStore(client, "test:", 0, CodecMsgpack)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	testStore(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	s, err := NewRedisStore(client, "", time.Hour, CodecJSON)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "r", pausedRun("r")))
	assert.True(t, mr.Exists("pipeflow:checkpoint:r"))
	assert.Equal(t, time.Hour, mr.TTL("pipeflow:checkpoint:r"))

	mr.FastForward(2 * time.Hour)
	_, err = s.Load(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	s, err := NewRedisStore(client, "", 0, CodecJSON)
	require.NoError(t, err)
	mr.Close()

	err = s.Save(context.Background(), "r", pausedRun("r"))
	require.Error(t, err)
	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestSQLStore(t *testing.T) {
	s, err := NewSQLStore(setupTestDB(t), SQLOptions{AutoMigrate: true})
	require.NoError(t, err)
	testStore(t, s)
}

func TestSQLStore_ListByStatus(t *testing.T) {
	s, err := NewSQLStore(setupTestDB(t), SQLOptions{Table: "runs", Codec: CodecMsgpack, AutoMigrate: true})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", pausedRun("a")))
	require.NoError(t, s.Save(ctx, "b", completedRun("b")))
	require.NoError(t, s.Save(ctx, "c", pausedRun("c")))

	paused, err := s.ListByStatus(ctx, state.StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, paused)

	done, err := s.ListByStatus(ctx, state.StatusSucceeded)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, done)
}

func TestEncoder_UnknownCodec(t *testing.T) {
	_, err := NewEncoder("gob")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEncoder_DecodesEitherCodec(t *testing.T) {
	jsonEnc, err := NewEncoder(CodecJSON)
	require.NoError(t, err)
	mpEnc, err := NewEncoder(CodecMsgpack)
	require.NoError(t, err)

	want := pausedRun("r")
	b, err := mpEnc.Encode(want)
	require.NoError(t, err)

	got, err := jsonEnc.Decode(b)
	require.NoError(t, err)
	requireSameRun(t, want, got)
}

func TestEncoder_RejectsGarbage(t *testing.T) {
	enc, err := NewEncoder(CodecJSON)
	require.NoError(t, err)
	for _, b := range [][]byte{nil, []byte("{"), []byte(`{"v":1,"codec":"json","checksum":"00","payload":"aGk="}`), []byte(`{"v":9}`)} {
		_, err := enc.Decode(b)
		assert.ErrorIs(t, err, ErrCorrupt, "input %q", b)
	}
}

func TestStorageError_NoDoubleWrap(t *testing.T) {
	inner := storageErr("load", "r", ErrNotFound)
	outer := storageErr("save", "r", inner)
	assert.Same(t, inner, outer)
	assert.Equal(t, "checkpoint load r: checkpoint not found", outer.Error())
	assert.True(t, errors.Is(outer, ErrNotFound))
}
