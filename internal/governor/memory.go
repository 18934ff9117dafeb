// Package governor decides whether new work may start: memory admission and
// cleanup, plus per-user upload rate limiting.
package governor

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

type Pressure string

const (
	PressureNormal   Pressure = "normal"
	PressureWarning  Pressure = "warning"
	PressureCritical Pressure = "critical"
)

// MemoryStats is the snapshot exposed on the admin endpoint.
type MemoryStats struct {
	Usage         Usage      `json:"usage"`
	PeakRSSMB     float64    `json:"peak_rss_mb"`
	WarningMB     int        `json:"warning_mb"`
	CriticalMB    int        `json:"critical_mb"`
	Pressure      Pressure   `json:"pressure"`
	Models        []string   `json:"models"`
	CleanupCount  int        `json:"cleanup_count"`
	LastCleanupAt *time.Time `json:"last_cleanup_at,omitempty"`
}

// Governor tracks process memory against the warning and critical thresholds
// and owns the registry of heavyweight handles that can be dropped on demand.
type Governor struct {
	mu          sync.Mutex
	sampler     Sampler
	warningMB   float64
	criticalMB  float64
	maxFileMB   float64
	models      map[string]adapter.Releaser
	peakMB      float64
	cleanups    int
	lastCleanup time.Time
	collect     func()
	now         func() time.Time
	log         *zerolog.Logger
}

func NewGovernor(cfg config.GovernorConfig, sampler Sampler, logger *zerolog.Logger) *Governor {
	l := logger.With().Str("component", "ResourceGovernor").Logger()
	return &Governor{
		sampler:    sampler,
		warningMB:  float64(cfg.MemoryWarningMB),
		criticalMB: float64(cfg.MemoryCriticalMB),
		maxFileMB:  float64(cfg.MaxFileMB),
		models:     make(map[string]adapter.Releaser),
		collect:    func() { runtime.GC(); debug.FreeOSMemory() },
		now:        time.Now,
		log:        &l,
	}
}

// RegisterModel makes a handle releasable by Cleanup. Re-registering a name replaces it.
func (g *Governor) RegisterModel(name string, r adapter.Releaser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.models[name] = r
	g.log.Info().Str("model", name).Msg("model registered for cleanup tracking")
}

// Usage samples the process and updates the peak and the exported gauge.
func (g *Governor) Usage() Usage {
	u, err := g.sampler.Sample()
	if err != nil {
		g.log.Error().Err(err).Msg("failed to sample memory usage")
		return Usage{}
	}
	g.mu.Lock()
	if u.RSSMB > g.peakMB {
		g.peakMB = u.RSSMB
	}
	g.mu.Unlock()
	metrics.SetMemoryRSS(u.RSSMB)
	return u
}

func (g *Governor) pressureOf(rss float64) Pressure {
	switch {
	case rss > g.criticalMB:
		return PressureCritical
	case rss > g.warningMB:
		return PressureWarning
	default:
		return PressureNormal
	}
}

func (g *Governor) Pressure() Pressure {
	return g.pressureOf(g.Usage().RSSMB)
}

// ValidateFileSize rejects a file larger than the absolute cap or than the
// headroom left under the warning threshold.
func (g *Governor) ValidateFileSize(sizeBytes int64) error {
	sizeMB := float64(sizeBytes) / bytesPerMB
	if sizeMB > g.maxFileMB {
		metrics.IncAdmissionRejection("file_too_large")
		g.log.Warn().Float64("size_mb", sizeMB).Float64("limit_mb", g.maxFileMB).Msg("audio file too large")
		return fmt.Errorf("%w: %.1fMB > %.0fMB limit", domain.ErrFileTooLarge, sizeMB, g.maxFileMB)
	}

	rss := g.Usage().RSSMB
	if g.pressureOf(rss) == PressureCritical {
		metrics.IncAdmissionRejection("memory_critical")
		g.log.Error().Float64("rss_mb", rss).Float64("critical_mb", g.criticalMB).Msg("rejecting upload above critical memory")
		return fmt.Errorf("%w: %.1fMB in use", domain.ErrMemoryCritical, rss)
	}
	available := g.warningMB - rss
	if sizeMB > available {
		metrics.IncAdmissionRejection("insufficient_memory")
		g.log.Warn().Float64("size_mb", sizeMB).Float64("available_mb", available).Msg("insufficient memory for file")
		return fmt.Errorf("%w: %.1fMB needed, %.1fMB available", domain.ErrInsufficientMemory, sizeMB, available)
	}

	g.log.Debug().Float64("size_mb", sizeMB).Float64("available_mb", available).Msg("audio file size validated")
	return nil
}

// Admit is asked by a worker before it claims a task. Above the warning level
// it cleans up first; it refuses only while usage stays above critical.
func (g *Governor) Admit() error {
	rss := g.Usage().RSSMB
	if g.pressureOf(rss) == PressureNormal {
		return nil
	}
	g.Cleanup()
	rss = g.Usage().RSSMB
	if g.pressureOf(rss) == PressureCritical {
		return fmt.Errorf("%w: %.1fMB in use", domain.ErrMemoryPressure, rss)
	}
	return nil
}

// Monitor runs one pressure check and cleans up when above the warning level.
func (g *Governor) Monitor() Pressure {
	u := g.Usage()
	p := g.pressureOf(u.RSSMB)
	switch p {
	case PressureCritical:
		g.log.Error().Float64("rss_mb", u.RSSMB).Float64("critical_mb", g.criticalMB).Msg("memory above critical threshold")
	case PressureWarning:
		g.log.Warn().Float64("rss_mb", u.RSSMB).Float64("warning_mb", g.warningMB).Msg("memory above warning threshold")
	default:
		return p
	}
	g.Cleanup()
	return p
}

// Cleanup releases every registered model and forces a collection. It is
// safe to call at any time, including speculatively around heavy work.
func (g *Governor) Cleanup() int {
	before := g.Usage().RSSMB

	g.mu.Lock()
	released := 0
	for name, m := range g.models {
		if err := m.Release(); err != nil {
			g.log.Error().Err(err).Str("model", name).Msg("failed to release model")
			continue
		}
		released++
	}
	g.cleanups++
	g.lastCleanup = g.now()
	g.mu.Unlock()

	g.collect()
	metrics.IncMemoryCleanup()

	after := g.Usage().RSSMB
	g.log.Info().
		Int("released", released).
		Float64("before_mb", before).
		Float64("after_mb", after).
		Float64("freed_mb", before-after).
		Msg("memory cleanup completed")
	return released
}

func (g *Governor) Snapshot() MemoryStats {
	u := g.Usage()
	g.mu.Lock()
	defer g.mu.Unlock()

	st := MemoryStats{
		Usage:        u,
		PeakRSSMB:    g.peakMB,
		WarningMB:    int(g.warningMB),
		CriticalMB:   int(g.criticalMB),
		Pressure:     g.pressureOf(u.RSSMB),
		Models:       make([]string, 0, len(g.models)),
		CleanupCount: g.cleanups,
	}
	for name := range g.models {
		st.Models = append(st.Models, name)
	}
	sort.Strings(st.Models)
	if !g.lastCleanup.IsZero() {
		t := g.lastCleanup
		st.LastCleanupAt = &t
	}
	return st
}
