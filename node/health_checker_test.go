package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckerEmpty(t *testing.T) {
	hc := NewHealthChecker()
	report := hc.CheckAll()
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q, want %q", report.Status, StatusHealthy)
	}
	if len(report.Subsystems) != 0 {
		t.Fatalf("subsystems = %d, want 0", len(report.Subsystems))
	}
}

func TestHealthCheckerAggregate(t *testing.T) {
	ok := func() error { return nil }
	degraded := func() error { return fmt.Errorf("%w: slow", ErrDegraded) }
	down := func() error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []CheckFunc
		want   string
	}{
		{"all healthy", []CheckFunc{ok, ok}, StatusHealthy},
		{"one degraded", []CheckFunc{ok, degraded}, StatusDegraded},
		{"one unhealthy", []CheckFunc{ok, down}, StatusUnhealthy},
		{"unhealthy overrides degraded", []CheckFunc{down, degraded}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for i, c := range tt.checks {
				hc.Register(fmt.Sprintf("sub%d", i), c)
			}
			report := hc.CheckAll()
			if report.Status != tt.want {
				t.Fatalf("status = %q, want %q", report.Status, tt.want)
			}
			if len(report.Subsystems) != len(tt.checks) {
				t.Fatalf("subsystems = %d, want %d", len(report.Subsystems), len(tt.checks))
			}
		})
	}
}

func TestHealthCheckerReplaceKeepsOrder(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("a", func() error { return errors.New("down") })
	hc.Register("b", func() error { return nil })
	hc.Register("a", func() error { return nil })

	report := hc.CheckAll()
	if len(report.Subsystems) != 2 {
		t.Fatalf("subsystems = %d, want 2", len(report.Subsystems))
	}
	if report.Subsystems[0].Name != "a" || report.Subsystems[0].Status != StatusHealthy {
		t.Fatalf("first = %+v, want healthy a", report.Subsystems[0])
	}
}

func TestHealthCheckerHTTP(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("db", func() error { return errors.New("closed") })

	rec := httptest.NewRecorder()
	hc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Subsystems[0].Message != "closed" {
		t.Fatalf("message = %q, want %q", report.Subsystems[0].Message, "closed")
	}
}
