// Package stats tracks the counters utility/stats.cc dumps on Halt when
// PrintStat is set (spec §6, SPEC_FULL §12.4): ticks, user/system ticks,
// disk and console I/O counts, and page faults. Every counter is mutated
// from multiple kernel threads, so it is a set of atomics rather than the
// teacher's plain struct fields.
package stats

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	TotalTicks      atomic.Int64
	UserTicks       atomic.Int64
	SystemTicks     atomic.Int64
	DiskReads       atomic.Int64
	DiskWrites      atomic.Int64
	ConsoleReads    atomic.Int64
	ConsoleWrites   atomic.Int64
	PageFaults      atomic.Int64
	SyscallsHandled atomic.Int64
}

func New() *Stats { return &Stats{} }

func (s *Stats) TickUser(n int64)   { s.TotalTicks.Add(n); s.UserTicks.Add(n) }
func (s *Stats) TickSystem(n int64) { s.TotalTicks.Add(n); s.SystemTicks.Add(n) }

// Render formats the counters the way the original's Statistics::Print did:
// one labelled line per counter.
func (s *Stats) Render() string {
	return fmt.Sprintf(
		"Ticks: total %d, user %d, system %d\n"+
			"Disk I/Os: %d reads, %d writes\n"+
			"Console I/Os: %d reads, %d writes\n"+
			"Page faults: %d\n"+
			"Syscalls handled: %d\n",
		s.TotalTicks.Load(), s.UserTicks.Load(), s.SystemTicks.Load(),
		s.DiskReads.Load(), s.DiskWrites.Load(),
		s.ConsoleReads.Load(), s.ConsoleWrites.Load(),
		s.PageFaults.Load(),
		s.SyscallsHandled.Load(),
	)
}
