package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lockedworlds/lockedworlds/log"
)

// ServiceState represents the lifecycle state of a service.
type ServiceState int

const (
	StateCreated  ServiceState = iota // registered but not started
	StateStarting                     // start in progress
	StateRunning                      // running normally
	StateStopping                     // stop in progress
	StateStopped                      // stopped cleanly
	StateFailed                       // failed to start or stop
)

// String returns a human-readable name for the service state.
func (s ServiceState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is a subsystem that can be started and stopped by the
// lifecycle manager.
type Service interface {
	Start() error
	Stop() error
	Name() string
}

// Lifecycle errors.
var (
	ErrServiceExists  = errors.New("service already registered")
	ErrTooManyService = errors.New("maximum number of services reached")
	ErrAlreadyStarted = errors.New("services already started")
)

// MaxServices bounds the number of services one manager runs.
const MaxServices = 16

type serviceEntry struct {
	svc       Service
	state     ServiceState
	startedAt time.Time
	err       error
	priority  int // lower value = start first
}

// LifecycleManager starts services in priority order and stops them in
// reverse. A failed start stops everything already started.
type LifecycleManager struct {
	mu       sync.Mutex
	services []*serviceEntry
	byName   map[string]*serviceEntry
	started  bool
	log      *log.Logger
}

// NewLifecycleManager creates an empty LifecycleManager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		byName: make(map[string]*serviceEntry),
		log:    log.Module("node"),
	}
}

// Register adds a service. Priority determines start order: lower values
// start first. Services cannot be added once started.
func (lm *LifecycleManager) Register(svc Service, priority int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return ErrAlreadyStarted
	}
	if len(lm.services) >= MaxServices {
		return ErrTooManyService
	}
	if _, exists := lm.byName[svc.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrServiceExists, svc.Name())
	}
	entry := &serviceEntry{svc: svc, state: StateCreated, priority: priority}
	lm.services = append(lm.services, entry)
	lm.byName[svc.Name()] = entry
	return nil
}

// StartAll starts all registered services in priority order. On the first
// failure the services already running are stopped again and the start
// error is returned.
func (lm *LifecycleManager) StartAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return ErrAlreadyStarted
	}
	lm.started = true
	for _, entry := range lm.sorted() {
		entry.state = StateStarting
		if err := entry.svc.Start(); err != nil {
			entry.state = StateFailed
			entry.err = err
			lm.log.Error("Service failed to start", "service", entry.svc.Name(), "err", err)
			lm.stopRunning()
			return fmt.Errorf("start %s: %w", entry.svc.Name(), err)
		}
		entry.state = StateRunning
		entry.startedAt = time.Now()
		lm.log.Debug("Service started", "service", entry.svc.Name())
	}
	return nil
}

// StopAll stops all running services in reverse priority order and
// returns the joined stop errors.
func (lm *LifecycleManager) StopAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.stopRunning()
}

// stopRunning stops running services in reverse order. Caller must hold
// lm.mu.
func (lm *LifecycleManager) stopRunning() error {
	ordered := lm.sorted()
	var errs []error
	for i := len(ordered) - 1; i >= 0; i-- {
		entry := ordered[i]
		if entry.state != StateRunning {
			continue
		}
		entry.state = StateStopping
		if err := entry.svc.Stop(); err != nil {
			entry.state = StateFailed
			entry.err = err
			errs = append(errs, fmt.Errorf("stop %s: %w", entry.svc.Name(), err))
			continue
		}
		entry.state = StateStopped
		lm.log.Debug("Service stopped", "service", entry.svc.Name(), "uptime", time.Since(entry.startedAt).Round(time.Millisecond))
	}
	return errors.Join(errs...)
}

// State returns the current state of a service by name. Unknown services
// report StateFailed.
func (lm *LifecycleManager) State(name string) ServiceState {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, ok := lm.byName[name]
	if !ok {
		return StateFailed
	}
	return entry.state
}

// RunningCount returns the number of services currently running.
func (lm *LifecycleManager) RunningCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	count := 0
	for _, entry := range lm.services {
		if entry.state == StateRunning {
			count++
		}
	}
	return count
}

// Status returns every service's state by name.
func (lm *LifecycleManager) Status() map[string]ServiceState {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make(map[string]ServiceState, len(lm.services))
	for _, entry := range lm.services {
		out[entry.svc.Name()] = entry.state
	}
	return out
}

// sorted returns the services by ascending priority, keeping registration
// order for equal priorities. Caller must hold lm.mu.
func (lm *LifecycleManager) sorted() []*serviceEntry {
	out := make([]*serviceEntry, len(lm.services))
	copy(out, lm.services)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority < out[j].priority
	})
	return out
}
