package analytics

import (
	"slices"
	"sync"
	"time"

	"salkit/core"
)

// Hook receives lifecycle events for request metrics.
type Hook interface {
	OnEvent(e core.Event)
}

// DailyRequests counts dispatched requests per UTC day.
type DailyRequests struct {
	mu   sync.Mutex
	days map[string]int64
}

func NewDailyRequests() *DailyRequests { return &DailyRequests{days: map[string]int64{}} }

func (d *DailyRequests) OnEvent(e core.Event) {
	if e.Type != core.EventRequestDispatched {
		return
	}
	day := e.Time.UTC().Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.days[day]++
}

func (d *DailyRequests) Count(day string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.days[day]
}

// OpStats aggregates one operation's outcomes.
type OpStats struct {
	Op         string              `json:"op"`
	Dispatched int64               `json:"dispatched"`
	Completed  int64               `json:"completed"`
	Failed     int64               `json:"failed"`
	Discarded  int64               `json:"discarded"`
	ByKind     map[core.Kind]int64 `json:"by_kind,omitempty"`
	FailedStep map[string]int64    `json:"failed_step,omitempty"`
	TotalTime  time.Duration       `json:"total_time"`
	MaxTime    time.Duration       `json:"max_time"`
}

// MeanTime is the average latency over settled requests.
func (s OpStats) MeanTime() time.Duration {
	n := s.Completed + s.Failed
	if n == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(n)
}

// Snapshot is a point-in-time copy of RequestMetrics.
type Snapshot struct {
	Taken       time.Time           `json:"taken"`
	Ops         []OpStats           `json:"ops"`
	ByKind      map[core.Kind]int64 `json:"by_kind"`
	CacheHits   int64               `json:"avatar_cache_hits"`
	Outstanding int64               `json:"outstanding"`
}

// Op returns the stats for one operation, or zero stats.
func (s Snapshot) Op(name string) OpStats {
	for _, o := range s.Ops {
		if o.Op == name {
			return o
		}
	}
	return OpStats{Op: name}
}

// RequestMetrics tracks request outcomes by operation and failure kind.
type RequestMetrics struct {
	mu        sync.RWMutex
	ops       map[string]*OpStats
	byKind    map[core.Kind]int64
	cacheHits int64
	now       func() time.Time
}

func NewRequestMetrics() *RequestMetrics {
	return &RequestMetrics{
		ops:    make(map[string]*OpStats),
		byKind: make(map[core.Kind]int64),
		now:    time.Now,
	}
}

func (m *RequestMetrics) op(name string) *OpStats {
	s := m.ops[name]
	if s == nil {
		s = &OpStats{Op: name, ByKind: map[core.Kind]int64{}, FailedStep: map[string]int64{}}
		m.ops[name] = s
	}
	return s
}

func (m *RequestMetrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Type {
	case core.EventRequestDispatched:
		m.op(e.Op).Dispatched++
	case core.EventRequestCompleted:
		s := m.op(e.Op)
		s.Completed++
		m.observe(s, e.Duration)
	case core.EventRequestFailed:
		s := m.op(e.Op)
		s.Failed++
		s.ByKind[e.Kind]++
		m.byKind[e.Kind]++
		if step, ok := e.Metadata["step"].(string); ok {
			s.FailedStep[step]++
		}
		m.observe(s, e.Duration)
	case core.EventRequestDiscarded:
		m.op(e.Op).Discarded++
	case core.EventAvatarCacheHit:
		m.cacheHits++
	}
}

func (m *RequestMetrics) observe(s *OpStats, d time.Duration) {
	s.TotalTime += d
	if d > s.MaxTime {
		s.MaxTime = d
	}
}

// Snapshot copies the current counters. Ops are sorted by dispatch count, busiest first.
func (m *RequestMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Taken:     m.now().UTC(),
		ByKind:    make(map[core.Kind]int64, len(m.byKind)),
		CacheHits: m.cacheHits,
	}
	for k, v := range m.byKind {
		snap.ByKind[k] = v
	}
	for _, s := range m.ops {
		c := *s
		c.ByKind = make(map[core.Kind]int64, len(s.ByKind))
		for k, v := range s.ByKind {
			c.ByKind[k] = v
		}
		c.FailedStep = make(map[string]int64, len(s.FailedStep))
		for k, v := range s.FailedStep {
			c.FailedStep[k] = v
		}
		snap.Ops = append(snap.Ops, c)
		snap.Outstanding += s.Dispatched - s.Completed - s.Failed - s.Discarded
	}
	slices.SortFunc(snap.Ops, func(a, b OpStats) int {
		if a.Dispatched != b.Dispatched {
			return int(b.Dispatched - a.Dispatched)
		}
		if a.Op < b.Op {
			return -1
		}
		return 1
	})
	return snap
}

// Reset clears every counter.
func (m *RequestMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = make(map[string]*OpStats)
	m.byKind = make(map[core.Kind]int64)
	m.cacheHits = 0
}
