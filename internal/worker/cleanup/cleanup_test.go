package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/remi/internal/model"
	"github.com/hitoshi/remi/internal/repository"
)

// mockSweeper はSessionSweeperのモック実装。
type mockSweeper struct {
	mu      sync.Mutex
	calls   int
	lastNow time.Time
	deleted int64
	err     error
}

func (m *mockSweeper) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastNow = now
	return m.deleted, m.err
}

func (m *mockSweeper) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	total int64
}

func (m *mockRecorder) RecordRoomSessionsSwept(count int64) { m.total += count }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSweeper{}, nil, newTestLogger(&buf))

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
}

func TestCleanupJob_Run_PassesCurrentTime(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{deleted: 3}
	recorder := &mockRecorder{}
	job := NewCleanupJob(sweeper, recorder, newTestLogger(&buf))

	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !sweeper.lastNow.Equal(fixed) {
		t.Errorf("now = %v, want %v", sweeper.lastNow, fixed)
	}
	if recorder.total != 3 {
		t.Errorf("recorded = %d, want 3", recorder.total)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSweeper{deleted: 42}, nil, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var entry map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("ログのJSONパースに失敗: %v", err)
	}
	if entry["deleted_count"] != float64(42) {
		t.Errorf("deleted_count = %v, want 42", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	recorder := &mockRecorder{}
	job := NewCleanupJob(&mockSweeper{err: dbErr}, recorder, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want wrapped %v", err, dbErr)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Error("失敗時はERRORレベルのログを出力するべき")
	}
	if recorder.total != 0 {
		t.Error("失敗時は削除件数を記録しない")
	}
}

func TestCleanupJob_Run_RemovesExpiredMemorySessions(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.NewMemoryRoomSessionRepo()
	ctx := context.Background()

	now := time.Now()
	_ = repo.Save(ctx, &model.RoomSession{RoomName: "expired", ExpiresAt: now.Add(-time.Minute)})
	_ = repo.Save(ctx, &model.RoomSession{RoomName: "live", ExpiresAt: now.Add(time.Hour)})

	job := NewCleanupJob(repo, nil, newTestLogger(&buf))
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if repo.Len() != 1 {
		t.Errorf("remaining sessions = %d, want 1", repo.Len())
	}
}

func TestCleanupJob_Start_RunsUntilCanceled(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{}
	job := NewCleanupJob(sweeper, nil, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Start(ctx, 10*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for sweeper.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", sweeper.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestCleanupJob_Start_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{err: errors.New("boom")}
	job := NewCleanupJob(sweeper, nil, newTestLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := job.Start(ctx, 10*time.Millisecond); err != nil {
		t.Errorf("Start returned error: %v", err)
	}
	if sweeper.callCount() < 2 {
		t.Errorf("expected retries after failure, got %d runs", sweeper.callCount())
	}
}
