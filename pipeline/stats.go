package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/svanichkin/termfeed/logs"
)

// Stats counts what a pipeline did. All fields are safe for concurrent use.
type Stats struct {
	Produced     atomic.Uint64
	Presented    atomic.Uint64
	Sent         atomic.Uint64
	SentBytes    atomic.Uint64
	Dropped      atomic.Uint64
	DecodeErrors atomic.Uint64
	Timeouts     atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Produced     uint64
	Presented    uint64
	Sent         uint64
	SentBytes    uint64
	Dropped      uint64
	DecodeErrors uint64
	Timeouts     uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Produced:     s.Produced.Load(),
		Presented:    s.Presented.Load(),
		Sent:         s.Sent.Load(),
		SentBytes:    s.SentBytes.Load(),
		Dropped:      s.Dropped.Load(),
		DecodeErrors: s.DecodeErrors.Load(),
		Timeouts:     s.Timeouts.Load(),
	}
}

// report logs per-second rates while verbose logging is on. It returns when
// ctx is done.
func (s *Stats) report(ctx context.Context, name string) {
	if !logs.Verbose() {
		return
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	prev := s.Snapshot()
	lastRateSample := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			cur := s.Snapshot()
			elapsed := time.Since(lastRateSample)
			if elapsed <= 0 {
				elapsed = time.Second
			}
			secs := elapsed.Seconds()
			logs.LogV("[%s] fps in=%.1f out=%.1f tx=%.2f kB/s dropped=%d decode_err=%d timeouts=%d",
				name,
				float64(cur.Produced-prev.Produced)/secs,
				float64(cur.Presented+cur.Sent-prev.Presented-prev.Sent)/secs,
				float64(cur.SentBytes-prev.SentBytes)/1024/secs,
				cur.Dropped, cur.DecodeErrors, cur.Timeouts)
			prev = cur
			lastRateSample = time.Now()
		}
	}
}
