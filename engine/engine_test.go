package engine

import (
	"math"
	"testing"
)

func newTestEngine(sampleRate float64) *Engine {
	return NewEngine(Config{
		SampleRate:       sampleRate,
		NumInputChannels: 1,
		MaxLoops:         4,
		MaxLookbackBars:  8,
		MinBpm:           60,
	})
}

// Scenario 1: immediate capture.
func TestEngineScenarioImmediateCapture(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	// Default metronome tempo is 120 bpm, 4/4: one bar = 96000 samples.

	input := ramp(0, 200000)
	outBuf := make([]float32, len(input))
	e.ProcessBlock([][]float32{input}, outBuf, len(input))

	lp := e.Loop(0)
	e.fulfillCapture(lp, pendingCapture{lookbackSamples: 192000})
	if !lp.IsPlaying() {
		t.Fatalf("loop 0 state = %v, want Playing", lp.State())
	}
	if lp.LengthSamples() != 192000 {
		t.Fatalf("LengthSamples() = %d, want 192000", lp.LengthSamples())
	}
	if lp.LengthInBars() != 2.0 {
		t.Fatalf("LengthInBars() = %v, want 2.0", lp.LengthInBars())
	}
	want := ramp(8000, 192000)
	if !equalF32(lp.layers[0].audio, want) {
		t.Fatalf("captured audio did not match the last 192000 input samples")
	}
}

// Scenario 2: quantized mute, last slot wins.
func TestEngineScenarioQuantizedMuteLastWins(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	lp := e.Loop(0)
	lp.LoadFromCapture(ramp(0, 4000))

	process := func(n int) {
		e.ProcessBlock(nil, make([]float32, n), n)
	}

	process(10000)
	e.EnqueueCommand(ScheduleOpCommand(OpToggleMute, 0, QuantizeBar))

	process(20000)
	e.EnqueueCommand(ScheduleOpCommand(OpMute, 0, QuantizeBar))

	process(66000) // metronome: 30000 -> 96000, boundary not yet reached
	if !lp.IsPlaying() {
		t.Fatalf("state before boundary = %v, want Playing", lp.State())
	}

	process(1) // currentSample == 96000 this iteration: the mute slot fires
	if !lp.IsMuted() {
		t.Fatalf("state at boundary = %v, want Muted (last-wins over the earlier ToggleMute)", lp.State())
	}
}

// Scenario 3: classic record with latency compensation.
func TestEngineScenarioClassicRecordWithLatencyCompensation(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	e.SetLatencyCompensation(1000)

	lp := e.Loop(2)
	e.fulfillRecord(lp)

	input := make([]float32, 50000)
	for i := range input {
		if i < 1000 {
			input[i] = 1.0
		} else {
			input[i] = 0.5
		}
	}
	outBuf := make([]float32, len(input))
	e.ProcessBlock([][]float32{input}, outBuf, len(input))

	e.fulfillStopRecord(lp)

	if lp.LengthSamples() != 49000 {
		t.Fatalf("LengthSamples() = %d, want 49000", lp.LengthSamples())
	}
	if got := lp.layers[0].audio[0]; got != 0.5 {
		t.Fatalf("first trimmed sample = %v, want 0.5", got)
	}
	if e.IsRecording() {
		t.Fatalf("IsRecording() = true after stop, want false")
	}
}

// Scenario 4: overdub, undo, redo through the engine's scheduling path.
func TestEngineScenarioOverdubUndoRedo(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	lp := e.Loop(0)
	lp.LoadFromCapture([]float32{1, 1, 1, 1})

	e.EnqueueCommand(ScheduleOpCommand(OpStartOverdub, 0, QuantizeFree))
	input := []float32{2, 2, 2, 2}
	outBuf := make([]float32, 4)
	e.ProcessBlock([][]float32{input}, outBuf, 4)

	e.EnqueueCommand(ScheduleOpCommand(OpStopOverdub, 0, QuantizeFree))
	e.ProcessBlock(nil, make([]float32, 1), 1)

	if !lp.IsPlaying() {
		t.Fatalf("state after overdub = %v, want Playing", lp.State())
	}

	lp.SetPlayPosition(0)
	mixed := []float32{lp.ProcessSample(), lp.ProcessSample(), lp.ProcessSample(), lp.ProcessSample()}
	want := []float32{3, 3, 3, 3}
	if !equalF32(mixed, want) {
		t.Fatalf("mixed samples = %v, want %v", mixed, want)
	}

	e.ExecuteOpNow(OpUndoLayer, 0)
	e.ProcessBlock(nil, make([]float32, 1), 1)
	lp.SetPlayPosition(0)
	mixed = []float32{lp.ProcessSample(), lp.ProcessSample(), lp.ProcessSample(), lp.ProcessSample()}
	if !equalF32(mixed, []float32{1, 1, 1, 1}) {
		t.Fatalf("mixed samples after undo = %v, want [1 1 1 1]", mixed)
	}

	e.ExecuteOpNow(OpRedoLayer, 0)
	e.ProcessBlock(nil, make([]float32, 1), 1)
	lp.SetPlayPosition(0)
	mixed = []float32{lp.ProcessSample(), lp.ProcessSample(), lp.ProcessSample(), lp.ProcessSample()}
	if !equalF32(mixed, want) {
		t.Fatalf("mixed samples after redo = %v, want %v", mixed, want)
	}
}

// Scenario 5: a loop whose recorded tempo differs from its tracked
// current tempo engages time stretch and consumes its source audio at
// roughly the tempo ratio, independent of the engine's own metronome.
func TestEngineScenarioTempoFollow(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000) // metronome stays at 120 bpm, 4/4: one bar = 96000 samples
	lp := e.Loop(0)
	lp.LoadFromCapture(ramp(0, 96000))
	lp.SetRecordedBpm(120)
	lp.SetCurrentBpm(60) // half tempo: time stretch activates

	outBuf := make([]float32, 96000)
	e.ProcessBlock(nil, outBuf, 96000)

	pos := lp.PlayPosition()
	if diff := math.Abs(float64(pos) - 48000); diff > 2000 {
		t.Fatalf("raw play position advanced to %d, want close to 48000", pos)
	}

	barPos := e.Metronome().Position()
	if barPos.Bar != 1 || barPos.Beat != 0 {
		t.Fatalf("metronome position = bar %d beat %d, want bar 1 beat 0", barPos.Bar, barPos.Beat)
	}
}

// Scenario 6: a due Clear cancels every other pending op on the loop.
func TestEngineScenarioClearCancelsAllPending(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	lp := e.Loop(0)
	lp.LoadFromCapture(ramp(0, 4000))

	e.EnqueueCommand(ScheduleOpCommand(OpReverse, 0, QuantizeBar))
	e.EnqueueCommand(ScheduleOpCommand(OpMute, 0, QuantizeBar))
	e.EnqueueCommand(ScheduleOpCommand(OpStartOverdub, 0, QuantizeBar))
	e.EnqueueCommand(ScheduleOpCommand(OpClearLoop, 0, QuantizeBar))

	e.ProcessBlock(nil, make([]float32, 96000), 96000) // boundary not yet reached this call
	e.ProcessBlock(nil, make([]float32, 1), 1)          // currentSample == 96000: clear fires first

	if !lp.IsEmpty() {
		t.Fatalf("state = %v, want Empty", lp.State())
	}
	if lp.hasPendingOps() {
		t.Fatalf("loop still has pending ops after Clear fired")
	}
}

func TestEngineDroppedCommandsCounted(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{SampleRate: 48000, NumInputChannels: 1, MaxLoops: 1})
	for i := 0; i < commandQueueCapacity+10; i++ {
		e.EnqueueCommand(CancelPendingCommand())
	}
	if e.DroppedCommands() == 0 {
		t.Fatalf("DroppedCommands() = 0, want nonzero after overflowing the queue")
	}
}

func TestEngineBadLoopIndexCommandsAreDropped(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	e.EnqueueCommand(ScheduleOpCommand(OpMute, 99, QuantizeFree))
	// Must not panic.
	e.ProcessBlock(nil, make([]float32, 16), 16)
}

func TestEngineNextEmptySlot(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	if slot := e.NextEmptySlot(); slot != 0 {
		t.Fatalf("NextEmptySlot() = %d, want 0", slot)
	}
	e.Loop(0).LoadFromCapture(ramp(0, 8))
	if slot := e.NextEmptySlot(); slot != 1 {
		t.Fatalf("NextEmptySlot() = %d, want 1", slot)
	}
}

func TestEngineLiveChannelMaskReflectsThreshold(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{SampleRate: 48000, NumInputChannels: 2, MaxLoops: 1})
	e.SetLiveThreshold(0.5)

	loud := make([]float32, 128)
	for i := range loud {
		loud[i] = 1.0
	}
	quiet := make([]float32, 128)

	e.ProcessBlock([][]float32{loud, quiet}, make([]float32, 128), 128)

	mask := e.LiveChannelMask()
	if mask&1 == 0 {
		t.Fatalf("channel 0 (loud) not marked live in mask %b", mask)
	}
	if mask&2 != 0 {
		t.Fatalf("channel 1 (quiet) marked live in mask %b", mask)
	}
}

func TestEngineSetBpmPropagatesToMetronomeMidiSyncAndLoops(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000) // starts at 120 bpm
	lp := e.Loop(0)
	lp.LoadFromCapture(ramp(0, 4000))
	lp.SetRecordedBpm(120)

	var hooked float64
	e.SetBpmChangedHook(func(bpm float64) { hooked = bpm })

	e.SetBpm(90)
	e.ProcessBlock(nil, make([]float32, 64), 64) // drainCommands runs at the top of ProcessBlock

	if got := e.Metronome().Bpm(); got != 90 {
		t.Fatalf("Metronome().Bpm() = %v, want 90", got)
	}
	if got := e.MidiSync().Bpm(); got != 90 {
		t.Fatalf("MidiSync().Bpm() = %v, want 90", got)
	}
	if hooked != 90 {
		t.Fatalf("bpm-changed hook received %v, want 90", hooked)
	}
	if got := lp.CurrentBpm(); got != 90 {
		t.Fatalf("loop CurrentBpm() = %v, want 90 (drainSetBpm should propagate to every non-empty loop)", got)
	}
}

func TestEngineSetBpmSkipsEmptyLoops(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	empty := e.Loop(1)

	e.SetBpm(90)
	e.ProcessBlock(nil, make([]float32, 64), 64)

	if got := empty.CurrentBpm(); got == 90 {
		t.Fatalf("CurrentBpm() on an empty loop changed to %v, drainSetBpm should skip empty loops", got)
	}
}

func TestEngineMetronomeClickAndMidiSyncToggle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(48000)
	e.SetMetronomeClickEnabled(false)
	if e.MetronomeClickEnabled() {
		t.Fatalf("click still enabled after disabling")
	}

	var sent []byte
	e.MidiSync().SetSendFunc(func(b byte) { sent = append(sent, b) })
	e.SetMidiSyncEnabled(true)
	if !e.MidiSyncEnabled() {
		t.Fatalf("MidiSyncEnabled() = false after enabling")
	}
	if len(sent) == 0 || sent[0] != MidiStart {
		t.Fatalf("expected a Start byte on enable, got %v", sent)
	}
}
