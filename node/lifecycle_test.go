package node

import (
	"errors"
	"sync"
	"testing"
)

// mockService implements the Service interface for testing.
type mockService struct {
	name     string
	startErr error
	stopErr  error
	seq      *sequence

	startSeq int
	stopSeq  int
}

func (m *mockService) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.startSeq = m.seq.next()
	return nil
}

func (m *mockService) Stop() error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopSeq = m.seq.next()
	return nil
}

func (m *mockService) Name() string {
	return m.name
}

// sequence hands out increasing numbers to record start/stop ordering.
type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

func TestRegisterService(t *testing.T) {
	lm := NewLifecycleManager()
	seq := new(sequence)

	if err := lm.Register(&mockService{name: "test-svc", seq: seq}, 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := lm.Register(&mockService{name: "test-svc", seq: seq}, 2)
	if !errors.Is(err, ErrServiceExists) {
		t.Fatalf("duplicate Register err = %v, want %v", err, ErrServiceExists)
	}
	if lm.State("test-svc") != StateCreated {
		t.Fatalf("state = %v, want %v", lm.State("test-svc"), StateCreated)
	}
}

func TestRegisterMaxServices(t *testing.T) {
	lm := NewLifecycleManager()
	seq := new(sequence)
	for i := 0; i < MaxServices; i++ {
		if err := lm.Register(&mockService{name: string(rune('a' + i)), seq: seq}, i); err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
	}
	err := lm.Register(&mockService{name: "overflow", seq: seq}, 0)
	if !errors.Is(err, ErrTooManyService) {
		t.Fatalf("err = %v, want %v", err, ErrTooManyService)
	}
}

func TestPriorityOrder(t *testing.T) {
	lm := NewLifecycleManager()
	seq := new(sequence)

	low := &mockService{name: "low", seq: seq}
	mid := &mockService{name: "mid", seq: seq}
	high := &mockService{name: "high", seq: seq}
	lm.Register(low, 10)
	lm.Register(high, 1)
	lm.Register(mid, 5)

	if err := lm.StartAll(); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if high.startSeq > mid.startSeq || mid.startSeq > low.startSeq {
		t.Fatalf("start order wrong: high=%d, mid=%d, low=%d", high.startSeq, mid.startSeq, low.startSeq)
	}
	if lm.RunningCount() != 3 {
		t.Fatalf("running = %d, want 3", lm.RunningCount())
	}

	if err := lm.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if low.stopSeq > mid.stopSeq || mid.stopSeq > high.stopSeq {
		t.Fatalf("stop order wrong: low=%d, mid=%d, high=%d", low.stopSeq, mid.stopSeq, high.stopSeq)
	}
	for name, state := range lm.Status() {
		if state != StateStopped {
			t.Fatalf("%s state = %v, want %v", name, state, StateStopped)
		}
	}
}

func TestStartFailureStopsStarted(t *testing.T) {
	lm := NewLifecycleManager()
	seq := new(sequence)

	good := &mockService{name: "good", seq: seq}
	bad := &mockService{name: "bad", seq: seq, startErr: errors.New("startup failure")}
	never := &mockService{name: "never", seq: seq}
	lm.Register(good, 1)
	lm.Register(bad, 2)
	lm.Register(never, 3)

	if err := lm.StartAll(); err == nil {
		t.Fatal("expected start error")
	}
	if lm.State("good") != StateStopped {
		t.Fatalf("good state = %v, want %v", lm.State("good"), StateStopped)
	}
	if lm.State("bad") != StateFailed {
		t.Fatalf("bad state = %v, want %v", lm.State("bad"), StateFailed)
	}
	if lm.State("never") != StateCreated {
		t.Fatalf("never state = %v, want %v", lm.State("never"), StateCreated)
	}
	if lm.RunningCount() != 0 {
		t.Fatalf("running = %d, want 0", lm.RunningCount())
	}
}

func TestStopError(t *testing.T) {
	lm := NewLifecycleManager()
	lm.Register(&mockService{name: "broken", seq: new(sequence), stopErr: errors.New("stop failure")}, 1)
	if err := lm.StartAll(); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := lm.StopAll(); err == nil {
		t.Fatal("expected stop error")
	}
	if lm.State("broken") != StateFailed {
		t.Fatalf("state = %v, want %v", lm.State("broken"), StateFailed)
	}
}

func TestRegisterAfterStart(t *testing.T) {
	lm := NewLifecycleManager()
	seq := new(sequence)
	lm.Register(&mockService{name: "a", seq: seq}, 1)
	lm.StartAll()
	if err := lm.Register(&mockService{name: "b", seq: seq}, 2); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("err = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := lm.StartAll(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second StartAll err = %v, want %v", err, ErrAlreadyStarted)
	}
	if lm.State("unknown") != StateFailed {
		t.Fatalf("unknown state = %v, want %v", lm.State("unknown"), StateFailed)
	}
}

func TestServiceStateString(t *testing.T) {
	tests := []struct {
		state ServiceState
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateFailed, "failed"},
		{ServiceState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Fatalf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
