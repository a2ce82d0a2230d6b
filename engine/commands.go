package engine

// OpType enumerates the operations schedulable through ScheduleOp.
// CaptureLoop, Record, StopRecord, and SetSpeed carry extra parameters
// and are instead enqueued through their own EngineCommand fields.
type OpType int

const (
	OpMute OpType = iota
	OpUnmute
	OpToggleMute
	OpReverse
	OpStartOverdub
	OpStopOverdub
	OpUndoLayer
	OpRedoLayer
	OpClearLoop
)

// String returns a human-readable description, used in status messages.
func (t OpType) String() string {
	switch t {
	case OpMute:
		return "Mute"
	case OpUnmute:
		return "Unmute"
	case OpToggleMute:
		return "Toggle Mute"
	case OpReverse:
		return "Reverse"
	case OpStartOverdub:
		return "Start Overdub"
	case OpStopOverdub:
		return "Stop Overdub"
	case OpUndoLayer:
		return "Undo Layer"
	case OpRedoLayer:
		return "Redo Layer"
	case OpClearLoop:
		return "Clear"
	default:
		return "Unknown"
	}
}

// commandKind tags which EngineCommand variant is populated.
type commandKind int

const (
	cmdScheduleOp commandKind = iota
	cmdCaptureLoop
	cmdRecord
	cmdStopRecord
	cmdSetSpeed
	cmdSetBpm
	cmdCancelPending
)

// EngineCommand is the single value type pushed through the producer's
// command queue. It is a tagged union flattened into one struct so it
// can live in a fixed-capacity ring without per-command allocation.
type EngineCommand struct {
	kind commandKind

	op        OpType
	loopIndex int
	quantize  Quantize
	value     float64 // speed or bpm
	lookback  int     // bars, for CaptureLoop
}

// ScheduleOpCommand builds a generic quantized operation command.
func ScheduleOpCommand(op OpType, loopIndex int, quantize Quantize) EngineCommand {
	return EngineCommand{kind: cmdScheduleOp, op: op, loopIndex: loopIndex, quantize: quantize}
}

// CaptureLoopCommand builds a command to capture the last lookbackBars
// bars of input into loopIndex.
func CaptureLoopCommand(loopIndex int, quantize Quantize, lookbackBars int) EngineCommand {
	return EngineCommand{kind: cmdCaptureLoop, loopIndex: loopIndex, quantize: quantize, lookback: lookbackBars}
}

// RecordCommand builds a command to start classic recording into
// loopIndex.
func RecordCommand(loopIndex int, quantize Quantize) EngineCommand {
	return EngineCommand{kind: cmdRecord, loopIndex: loopIndex, quantize: quantize}
}

// StopRecordCommand builds a command to stop the active classic
// recording. loopIndex must match the loop currently recording.
func StopRecordCommand(loopIndex int, quantize Quantize) EngineCommand {
	return EngineCommand{kind: cmdStopRecord, loopIndex: loopIndex, quantize: quantize}
}

// SetSpeedCommand builds a command to change loopIndex's playback
// speed.
func SetSpeedCommand(loopIndex int, speed float64, quantize Quantize) EngineCommand {
	return EngineCommand{kind: cmdSetSpeed, loopIndex: loopIndex, quantize: quantize, value: speed}
}

// SetBpmCommand builds a command to change the engine's tempo.
func SetBpmCommand(bpm float64) EngineCommand {
	return EngineCommand{kind: cmdSetBpm, value: bpm}
}

// CancelPendingCommand builds a command that clears every loop's
// pending operations.
func CancelPendingCommand() EngineCommand {
	return EngineCommand{kind: cmdCancelPending}
}
