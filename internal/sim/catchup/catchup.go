// Package catchup fast-forwards a world to a target logical time in fixed
// ticks, so every peer passes through the same intermediate states.
package catchup

import "github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"

// Ticker is the part of the world that catch-up drives.
type Ticker interface {
	Now() int64
	Tick(now int64) world.TickReport
}

// Result describes one catch-up run.
type Result struct {
	From        int64
	To          int64
	FullTicks   int
	PartialTick int64 // length of the final tick in ms, zero if none
	Report      world.TickReport
}

// Advance ticks w from its current time to target in steps of tickMs, then
// once more for the remainder. Nothing happens when target is not ahead.
func Advance(w Ticker, target, tickMs int64) Result {
	from := w.Now()
	res := Result{From: from, To: from}
	if target <= from {
		return res
	}
	if tickMs <= 0 {
		tickMs = target - from
	}
	now := from
	for target-now >= tickMs {
		now += tickMs
		res.Report.Merge(w.Tick(now))
		res.FullTicks++
	}
	if now < target {
		res.PartialTick = target - now
		res.Report.Merge(w.Tick(target))
	}
	res.To = target
	return res
}
