package workers

import (
	"strings"
	"testing"

	"github.com/ooni/vpndatapath/internal/model"
)

func TestManager(t *testing.T) {
	logger := model.NewTestLogger()
	m := NewManager(logger, "test")

	if m.IsShuttingDown() {
		t.Fatal("new manager should not be shutting down")
	}

	started := make(chan struct{})
	for i := 0; i < 3; i++ {
		m.StartWorker("waiter", func() {
			started <- struct{}{}
			<-m.ShouldShutdown()
		})
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	if got := m.Running(); got != 3 {
		t.Fatalf("expected 3 running workers, got %d", got)
	}

	m.StartShutdown()
	m.StartShutdown() // idempotent
	m.WaitWorkersShutdown()

	if !m.IsShuttingDown() {
		t.Fatal("expected manager to be shutting down")
	}
	if got := m.Running(); got != 0 {
		t.Fatalf("expected no running workers, got %d", got)
	}

	var startedLines, doneLines int
	for _, line := range logger.Snapshot() {
		switch {
		case strings.HasPrefix(line, "test: waiter: started"):
			startedLines++
		case strings.HasPrefix(line, "test: waiter: done"):
			doneLines++
		}
	}
	if startedLines != 3 || doneLines != 3 {
		t.Fatalf("unexpected log lines: %v", logger.Snapshot())
	}
}

func TestManager_WorkerReturningEarly(t *testing.T) {
	m := NewManager(model.NewTestLogger(), "test")
	m.StartWorker("oneshot", func() {})
	m.WaitWorkersShutdown()
	if m.IsShuttingDown() {
		t.Fatal("a worker returning should not start shutdown")
	}
}
