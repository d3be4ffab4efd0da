package engine

import "github.com/cachebay/prefill/internal/protocol"

// The pacing queue absorbs bursts of already-satisfied events and replays
// them one at a time as synthetic linear animations, so a re-run against an
// already-warm cache reads as item-by-item progress instead of a flicker.
//
// Exactly one item animates at a time. Scheduled ticks carry the generation
// they were queued under; resetPacingLocked bumps the generation, which
// orphans every in-flight tick without needing to track timers.

func (e *Engine) enqueueLocked(item AnimationItem) {
	e.queue = append(e.queue, item)
	if e.animating == "" {
		e.startNextAnimationLocked()
	}
}

func (e *Engine) startNextAnimationLocked() {
	if len(e.queue) == 0 {
		return
	}
	item := e.queue[0]
	e.queue = e.queue[1:]
	e.animating = item.ItemID

	steps := int(e.cfg.AnimationDuration / e.cfg.AnimationTick)
	if steps < 1 {
		steps = 1
	}

	e.projection = syntheticProjection(item, 0)

	gen := e.generation
	e.sched.AfterFunc(e.cfg.AnimationTick, func() {
		e.animationTick(gen, item, 1, steps)
	})
}

func (e *Engine) animationTick(gen uint64, item AnimationItem, step, steps int) {
	e.mu.Lock()

	if gen != e.generation || e.animating != item.ItemID {
		e.mu.Unlock()
		return
	}

	if e.preemptedLocked(item) {
		// A genuine downloading event took over the projection; stop
		// animating and move on to whatever is queued.
		e.animating = ""
		e.startNextAnimationLocked()
		cb := e.onUpdate
		e.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}

	if step >= steps {
		e.projection = syntheticProjection(item, 100)
		e.sched.AfterFunc(e.cfg.SettleDelay, func() {
			e.finishAnimation(gen, item)
		})
	} else {
		pct := float64(step) * 100 / float64(steps)
		e.projection = syntheticProjection(item, pct)
		e.sched.AfterFunc(e.cfg.AnimationTick, func() {
			e.animationTick(gen, item, step+1, steps)
		})
	}

	cb := e.onUpdate
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (e *Engine) finishAnimation(gen uint64, item AnimationItem) {
	e.mu.Lock()

	if gen != e.generation || e.animating != item.ItemID {
		e.mu.Unlock()
		return
	}

	e.animating = ""

	line := item.label() + " already up to date (" + protocol.FormatBytes(item.TotalBytes) + ")"

	if len(e.queue) > 0 {
		e.startNextAnimationLocked()
	} else if e.isSyntheticForLocked(item) {
		// Queue drained and nothing real arrived meanwhile.
		e.projection = nil
	}

	cb := e.onUpdate
	sink := e.activity
	e.mu.Unlock()

	if sink != nil {
		sink(line)
	}
	if cb != nil {
		cb()
	}
}

// resumeQueueAfterSettle starts the next queued animation once a real
// item completion has rested at 100%. Inert if anything changed since it
// was scheduled: a reset, a new animation, or a drained queue.
func (e *Engine) resumeQueueAfterSettle(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.animating != "" || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	e.startNextAnimationLocked()
	cb := e.onUpdate
	e.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// preemptedLocked reports whether a real event replaced the synthetic
// projection for the item being animated.
func (e *Engine) preemptedLocked(item AnimationItem) bool {
	if e.projection == nil {
		return false
	}
	return e.projection.Phase == protocol.PhaseDownloading &&
		e.projection.CurrentItemID == item.ItemID
}

func (e *Engine) isSyntheticForLocked(item AnimationItem) bool {
	return e.projection != nil &&
		e.projection.Phase == protocol.PhaseAlreadySatisfied &&
		e.projection.CurrentItemID == item.ItemID
}

// resetPacingLocked drops the queue and the animating lock and invalidates
// every scheduled tick. Safe to call at any point of an animation.
func (e *Engine) resetPacingLocked() {
	e.queue = nil
	e.animating = ""
	e.generation++
}

func syntheticProjection(item AnimationItem, pct float64) *protocol.ProgressEvent {
	return &protocol.ProgressEvent{
		Phase:            protocol.PhaseAlreadySatisfied,
		CurrentItemID:    item.ItemID,
		CurrentItemName:  item.ItemName,
		PercentComplete:  pct,
		BytesTransferred: int64(pct / 100 * float64(item.TotalBytes)),
		TotalBytes:       item.TotalBytes,
	}
}

func (a AnimationItem) label() string {
	if a.ItemName != "" {
		return a.ItemName
	}
	return a.ItemID
}
