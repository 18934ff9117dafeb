package sched

import (
	"context"
	"time"

	"meeting-ai-pipeline/internal/governor"

	"github.com/rs/zerolog"
)

type PressureMonitor interface {
	Monitor() governor.Pressure
}

// MemoryMonitor runs the governor's pressure check on a fixed interval.
type MemoryMonitor struct {
	interval time.Duration
	gov      PressureMonitor
	log      *zerolog.Logger
}

func NewMemoryMonitor(interval time.Duration, gov PressureMonitor, logger *zerolog.Logger) *MemoryMonitor {
	l := logger.With().Str("component", "MemoryMonitor").Logger()
	return &MemoryMonitor{interval: interval, gov: gov, log: &l}
}

func (m *MemoryMonitor) Run(ctx context.Context) error {
	m.log.Info().Dur("interval", m.interval).Msg("Starting memory monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last := governor.PressureNormal
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Stopping memory monitor")
			return ctx.Err()
		case <-ticker.C:
			p := m.gov.Monitor()
			if p != last {
				m.log.Info().Str("from", string(last)).Str("to", string(p)).Msg("memory pressure changed")
				last = p
			}
		}
	}
}
