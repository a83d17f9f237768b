package system

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

// Sampler reads process resource usage from the Go runtime and, where
// available, from /proc.
type Sampler struct {
	queueLength func() int
	now         func() time.Time

	procOnce sync.Once
	proc     *procfs.Proc
}

func NewSampler(queueLength func() int) *Sampler {
	return &Sampler{
		queueLength: queueLength,
		now:         time.Now,
	}
}

func (s *Sampler) Sample(ctx context.Context) (domain.SystemRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.SystemRecord{}, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rec := domain.SystemRecord{
		At:         s.now(),
		HeapBytes:  mem.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}
	if s.queueLength != nil {
		rec.QueueLength = s.queueLength()
	}

	if proc := s.self(); proc != nil {
		stat, err := proc.Stat()
		if err == nil {
			rec.RSSBytes = uint64(stat.ResidentMemory())
			rec.CPUSeconds = stat.CPUTime()
		}
	}
	return rec, nil
}

func (s *Sampler) self() *procfs.Proc {
	s.procOnce.Do(func() {
		proc, err := procfs.Self()
		if err != nil {
			slog.Debug("procfs_unavailable", "error", err)
			return
		}
		s.proc = &proc
	})
	return s.proc
}

// QueueGauge counts in-flight work for the sampler's queue length.
type QueueGauge struct {
	mu    sync.Mutex
	value int
}

func (g *QueueGauge) Inc() {
	g.mu.Lock()
	g.value++
	g.mu.Unlock()
}

func (g *QueueGauge) Dec() {
	g.mu.Lock()
	if g.value > 0 {
		g.value--
	}
	g.mu.Unlock()
}

func (g *QueueGauge) Value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}
