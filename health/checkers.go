package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/qbridge/messaging"
)

// SessionSource is anything that reports a queue session's state
type SessionSource interface {
	State() messaging.SessionState
	Queue() string
}

// SessionChecker reports the state of a queue manager session
type SessionChecker struct {
	source SessionSource
}

// NewSessionChecker creates a health checker for source
func NewSessionChecker(source SessionSource) *SessionChecker {
	return &SessionChecker{source: source}
}

func (c *SessionChecker) Name() string {
	return "session"
}

// Check maps the session state: open is healthy, connecting or closing is
// degraded, closed or failed is unhealthy.
func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.source.State()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"queue": c.source.Queue(),
			"state": state.String(),
		},
	}

	switch state {
	case messaging.StateOpen:
		result.Status = StatusHealthy
		result.Message = "Session is open"
	case messaging.StateConnecting, messaging.StateClosing:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Session is %s", state)
	default:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Session is %s", state)
	}

	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker watches the goroutine count, which grows when get cycles
// are left waiting
type RuntimeChecker struct {
	warningThreshold  int
	criticalThreshold int
}

// NewRuntimeChecker creates a new runtime checker
func NewRuntimeChecker(warningThreshold, criticalThreshold int) *RuntimeChecker {
	return &RuntimeChecker{
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
