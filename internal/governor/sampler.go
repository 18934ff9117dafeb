package governor

import (
	"runtime"

	"github.com/prometheus/procfs"
)

const bytesPerMB = 1024 * 1024

// Usage is one reading of process resources.
type Usage struct {
	RSSMB float64 `json:"rss_mb"`
	Load1 float64 `json:"load1"`
}

// Sampler reads current resource usage.
type Sampler interface {
	Sample() (Usage, error)
}

// ProcSampler reads RSS and load average from /proc. On hosts without procfs
// it falls back to the Go runtime's view of memory obtained from the OS.
type ProcSampler struct {
	fs    procfs.FS
	hasFS bool
}

func NewProcSampler() *ProcSampler {
	fs, err := procfs.NewDefaultFS()
	return &ProcSampler{fs: fs, hasFS: err == nil}
}

func (s *ProcSampler) Sample() (Usage, error) {
	if !s.hasFS {
		return runtimeUsage(), nil
	}
	p, err := s.fs.Self()
	if err != nil {
		return runtimeUsage(), nil
	}
	stat, err := p.Stat()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{RSSMB: float64(stat.ResidentMemory()) / bytesPerMB}
	if avg, err := s.fs.LoadAvg(); err == nil {
		u.Load1 = avg.Load1
	}
	return u, nil
}

func runtimeUsage() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Usage{RSSMB: float64(ms.Sys-ms.HeapReleased) / bytesPerMB}
}
