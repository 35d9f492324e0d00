package corpusconv

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Pressure is the memory monitor's current level relative to the ceiling.
type Pressure int

const (
	PressureNone     Pressure = iota
	PressureWarning           // >= 80% of the ceiling
	PressureCritical          // >= 90% of the ceiling
)

func (p Pressure) String() string {
	switch p {
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "none"
	}
}

const (
	warningFraction  = 0.80
	criticalFraction = 0.90
)

// MemoryMonitor samples process memory at a fixed interval and classifies
// it against the configured ceiling. It is an explicit component owned by
// the pipeline and handed to collaborators, never package state, so it can
// be driven in isolation by tests via an injected sampler.
//
// At warning level it forces a GC and returns freed pages to the OS, the
// cheapest form of "release buffers" available to the runtime. At critical
// level the admission gate closes; if critical pressure outlasts the grace
// window, AwaitAdmission fails the run with ErrResourceExhausted. A
// transient spike never kills the run by itself.
type MemoryMonitor struct {
	ceiling  int64
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	// sample returns current memory usage in bytes. Injectable for tests;
	// defaults to heap-in-use.
	sample func() uint64
	// release reclaims memory at warning level. Injectable for tests.
	release func()

	mu            sync.Mutex
	level         Pressure
	criticalSince time.Time
	exhausted     bool
	peak          uint64

	stop chan struct{}
	done chan struct{}
}

// NewMemoryMonitor creates a monitor for the given ceiling. logger may be
// nil.
func NewMemoryMonitor(ceilingBytes int64, sampleInterval, graceWindow time.Duration, logger *slog.Logger) *MemoryMonitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MemoryMonitor{
		ceiling:  ceilingBytes,
		interval: sampleInterval,
		grace:    graceWindow,
		logger:   logger,
		sample:   heapInUse,
		release: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// Start launches the sampling loop. Call Stop to end it.
func (m *MemoryMonitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.observe(ctx, m.sample())
			}
		}
	}()
}

// Stop ends the sampling loop and waits for it to exit.
func (m *MemoryMonitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

// observe classifies one sample and applies the pressure policy.
func (m *MemoryMonitor) observe(ctx context.Context, usage uint64) {
	m.mu.Lock()
	if usage > m.peak {
		m.peak = usage
	}

	level := PressureNone
	frac := float64(usage) / float64(m.ceiling)
	switch {
	case frac >= criticalFraction:
		level = PressureCritical
	case frac >= warningFraction:
		level = PressureWarning
	}

	prev := m.level
	m.level = level

	switch level {
	case PressureCritical:
		if m.criticalSince.IsZero() {
			m.criticalSince = time.Now()
		} else if !m.exhausted && time.Since(m.criticalSince) > m.grace {
			m.exhausted = true
		}
	default:
		m.criticalSince = time.Time{}
	}
	exhausted := m.exhausted
	m.mu.Unlock()

	if level > prev {
		m.logger.WarnContext(ctx, "memory pressure rising",
			"level", level.String(),
			"usage_bytes", usage,
			"ceiling_bytes", m.ceiling,
			"usage_pct", frac*100)
	}
	if level >= PressureWarning && !exhausted {
		m.release()
	}
	if exhausted {
		m.logger.ErrorContext(ctx, "memory pressure critical past grace window",
			"usage_bytes", usage,
			"ceiling_bytes", m.ceiling,
			"grace", m.grace)
	}
}

// Level returns the most recently observed pressure level.
func (m *MemoryMonitor) Level() Pressure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Peak returns the highest usage observed so far, in bytes.
func (m *MemoryMonitor) Peak() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Exhausted reports whether critical pressure has outlasted the grace
// window.
func (m *MemoryMonitor) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// AwaitAdmission blocks while the admission gate is closed (critical
// pressure). It returns nil once admission is allowed, ErrResourceExhausted
// once the grace window has been exceeded, or the context error on
// cancellation.
func (m *MemoryMonitor) AwaitAdmission(ctx context.Context) error {
	for {
		m.mu.Lock()
		level, exhausted := m.level, m.exhausted
		m.mu.Unlock()

		if exhausted {
			return ErrResourceExhausted
		}
		if level < PressureCritical {
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(m.interval):
		}
	}
}
