package engine

import (
	"errors"
	"fmt"
)

// ErrLoopIndex is returned by ValidateLoopIndex when a caller-supplied
// loop index (e.g. from a MIDI controller mapping or a UI click) falls
// outside the engine's configured loop slots. Nothing on the audio
// thread itself ever returns an error: ProcessBlock and the Schedule*
// producer calls mirror the original's void contract and silently drop
// an out-of-range index (see drainScheduleOp), because that path must
// never propagate a failure back up a call stack the audio thread can't
// afford to block on. ValidateLoopIndex exists for callers upstream of
// that queue who want to reject bad input before it's ever enqueued.
var ErrLoopIndex = errors.New("engine: loop index out of range")

// ValidateLoopIndex reports ErrLoopIndex if i does not name one of the
// engine's loop slots. Intended for control-surface bindings (MIDI note
// numbers, UI slot buttons) that need to validate user input before
// turning it into a Schedule* call.
func (e *Engine) ValidateLoopIndex(i int) error {
	if i < 0 || i >= len(e.loops) {
		return fmt.Errorf("%w: %d", ErrLoopIndex, i)
	}
	return nil
}
