package engine

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"retrospect/dsp"
)

const commandQueueCapacity = 256

// EngineCallbacks lets a non-real-time consumer (a TUI, a logger) react
// to state the audio thread produces. All four are optional. They are
// invoked synchronously from inside ProcessBlock, so they must be cheap
// and must not block; OnMessage and OnStateChanged are also invoked on
// the caller's thread by the Schedule*, SetBpm, CancelPending and
// CancelPendingForLoop methods.
type EngineCallbacks struct {
	OnStateChanged func()
	OnMessage      func(string)
	OnBeat         BeatCallback
	OnBar          BarCallback
}

// activeRecording tracks an in-progress classic (non-quantized-capture)
// recording: input is accumulated sample by sample until StopRecord
// fires.
type activeRecording struct {
	active      bool
	loopIndex   int
	buffer      []float32
	startSample int64
}

// Config configures a new Engine. Zero values fall back to sensible
// defaults (see NewEngine).
type Config struct {
	MaxLoops          int
	MaxLookbackBars   int
	SampleRate        float64
	MinBpm            float64
	NumInputChannels  int
	LiveThreshold     float32
	LiveWindowMs      int
}

// Engine is the central orchestrator: it owns the metronome, click,
// MIDI clock, input channels, loops, and the command queue that
// connects a control thread to the audio thread. ProcessBlock is the
// only method meant to run on the audio thread; everything else may be
// called from any other single thread.
type Engine struct {
	metronome *Metronome
	click     *MetronomeClick
	midiSync  *MidiSync

	inputChannels    []*InputChannel
	lastBreachSample []int64

	// channelSamples/channelActive are scratch buffers reused every
	// ProcessBlock iteration so dsp.SumActive never allocates on the
	// audio thread.
	channelSamples []float32
	channelActive  []bool

	loops []*Loop

	recording activeRecording

	defaultQuantize  Quantize
	lookbackBars     int
	maxLookbackBars  int
	crossfadeSamples int
	sampleRate       float64
	latencyComp      int64
	inputMonitoring  bool
	liveThreshold    float32

	callbacks EngineCallbacks
	messages  messageLog

	bpmChangedHook func(float64)

	queue *commandQueue

	displayMu       sync.Mutex
	channelPeaks    []float32
	isRecordingFlag atomic.Bool
	recordingIdx    atomic.Int32
	liveChannelMask atomic.Uint64
}

// NewEngine creates an engine ready to process audio. The ring buffer
// backing every input channel is sized to hold MaxLookbackBars bars of
// audio at MinBpm (the slowest tempo the caller expects to capture
// from), assuming a 4/4 time signature as the worst case bar length.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = 8
	}
	if cfg.MaxLookbackBars <= 0 {
		cfg.MaxLookbackBars = 8
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100.0
	}
	if cfg.MinBpm <= 0 {
		cfg.MinBpm = 60.0
	}
	if cfg.NumInputChannels <= 0 {
		cfg.NumInputChannels = 1
	}
	if cfg.LiveWindowMs <= 0 {
		cfg.LiveWindowMs = 500
	}

	ringCapacity := int(math.Ceil(float64(cfg.MaxLookbackBars) * 4 * (60.0 / cfg.MinBpm) * cfg.SampleRate))
	activityWindowSamples := int(cfg.SampleRate * float64(cfg.LiveWindowMs) / 1000.0)

	e := &Engine{
		metronome:        NewMetronome(120.0, 4, cfg.SampleRate),
		click:            NewMetronomeClick(cfg.SampleRate),
		midiSync:         NewMidiSync(120.0, cfg.SampleRate),
		defaultQuantize:  QuantizeBar,
		lookbackBars:     1,
		maxLookbackBars:  cfg.MaxLookbackBars,
		crossfadeSamples: 256,
		sampleRate:       cfg.SampleRate,
		liveThreshold:    cfg.LiveThreshold,
		queue:            newCommandQueue(commandQueueCapacity),
		channelPeaks:     make([]float32, cfg.NumInputChannels),
		lastBreachSample: make([]int64, cfg.NumInputChannels),
		channelSamples:   make([]float32, cfg.NumInputChannels),
		channelActive:    make([]bool, cfg.NumInputChannels),
	}
	e.recordingIdx.Store(-1)

	for i := range e.lastBreachSample {
		e.lastBreachSample[i] = math.MinInt64
	}

	e.inputChannels = make([]*InputChannel, cfg.NumInputChannels)
	for i := range e.inputChannels {
		e.inputChannels[i] = NewInputChannel(ringCapacity, activityWindowSamples)
	}

	e.loops = make([]*Loop, cfg.MaxLoops)
	for i := range e.loops {
		lp := NewLoop(i, cfg.SampleRate)
		lp.SetCrossfadeSamples(e.crossfadeSamples)
		e.loops[i] = lp
	}

	e.wireMetronomeCallbacks()

	return e
}

func (e *Engine) wireMetronomeCallbacks() {
	e.metronome.OnBeat(func(pos MetronomePosition) {
		e.click.Trigger(pos.Beat == 0)
		if e.callbacks.OnBeat != nil {
			e.callbacks.OnBeat(pos)
		}
	})
	e.metronome.OnBar(func(pos MetronomePosition) {
		if e.callbacks.OnBar != nil {
			e.callbacks.OnBar(pos)
		}
	})
}

// Metronome returns the engine's metronome.
func (e *Engine) Metronome() *Metronome { return e.metronome }

// MidiSync returns the engine's MIDI clock generator.
func (e *Engine) MidiSync() *MidiSync { return e.midiSync }

// InputChannel returns input channel index, or nil if out of range.
func (e *Engine) InputChannel(index int) *InputChannel {
	if index < 0 || index >= len(e.inputChannels) {
		return nil
	}
	return e.inputChannels[index]
}

// NumInputChannels returns the number of configured input channels.
func (e *Engine) NumInputChannels() int { return len(e.inputChannels) }

// Loop returns loop index, or nil if out of range.
func (e *Engine) Loop(index int) *Loop {
	if index < 0 || index >= len(e.loops) {
		return nil
	}
	return e.loops[index]
}

// MaxLoops returns the number of loop slots.
func (e *Engine) MaxLoops() int { return len(e.loops) }

// ActiveLoopCount returns how many loops are non-empty.
func (e *Engine) ActiveLoopCount() int {
	n := 0
	for _, lp := range e.loops {
		if !lp.IsEmpty() {
			n++
		}
	}
	return n
}

// NextEmptySlot returns the index of the first empty loop, or -1 if
// every slot is occupied.
func (e *Engine) NextEmptySlot() int {
	for i, lp := range e.loops {
		if lp.IsEmpty() {
			return i
		}
	}
	return -1
}

// EnqueueCommand pushes cmd onto the producer->audio-thread queue. It
// is wait-free and safe to call from exactly one control-thread caller.
// Returns false if the queue was full; the command is dropped and
// counted (see DroppedCommands).
func (e *Engine) EnqueueCommand(cmd EngineCommand) bool {
	return e.queue.Push(cmd)
}

// DroppedCommands returns how many EnqueueCommand calls were rejected
// because the queue was full.
func (e *Engine) DroppedCommands() uint64 { return e.queue.Dropped() }

// IsRecording reports whether a classic (non-capture) recording is in
// progress. Safe to call from any thread.
func (e *Engine) IsRecording() bool { return e.isRecordingFlag.Load() }

// RecordingLoopIndex returns the loop index currently classic-recording,
// or -1. Safe to call from any thread.
func (e *Engine) RecordingLoopIndex() int { return int(e.recordingIdx.Load()) }

// LiveChannelMask returns a bitmask of which input channels were live as
// of the last completed ProcessBlock. Safe to call from any thread.
func (e *Engine) LiveChannelMask() uint64 { return e.liveChannelMask.Load() }

// ChannelPeaksSnapshot returns a copy of the per-channel peak levels as
// of the last ProcessBlock whose display-lock acquisition succeeded.
// Safe to call from any thread.
func (e *Engine) ChannelPeaksSnapshot() []float32 {
	e.displayMu.Lock()
	defer e.displayMu.Unlock()
	out := make([]float32, len(e.channelPeaks))
	copy(out, e.channelPeaks)
	return out
}

// DefaultQuantize returns the quantization applied to new operations
// scheduled without an explicit override.
func (e *Engine) DefaultQuantize() Quantize { return e.defaultQuantize }

// SetDefaultQuantize sets the default quantization mode.
func (e *Engine) SetDefaultQuantize(q Quantize) { e.defaultQuantize = q }

// LookbackBars returns the configured capture lookback in bars.
func (e *Engine) LookbackBars() int { return e.lookbackBars }

// SetLookbackBars sets the capture lookback, clamped to [1,
// MaxLookbackBars], and returns the clamped value.
func (e *Engine) SetLookbackBars(bars int) int {
	if bars < 1 {
		bars = 1
	}
	if bars > e.maxLookbackBars {
		bars = e.maxLookbackBars
	}
	e.lookbackBars = bars
	return e.lookbackBars
}

// MaxLookbackBars returns the ceiling lookback the ring buffers were
// sized for.
func (e *Engine) MaxLookbackBars() int { return e.maxLookbackBars }

// CrossfadeSamples returns the crossfade length applied to newly
// captured or recorded loops.
func (e *Engine) CrossfadeSamples() int { return e.crossfadeSamples }

// SetCrossfadeSamples sets the crossfade length applied to newly
// captured or recorded loops (existing loops are unaffected).
func (e *Engine) SetCrossfadeSamples(samples int) { e.crossfadeSamples = samples }

// SampleRate returns the configured audio sample rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// LatencyCompensation returns the round-trip latency compensation, in
// samples, applied to capture and recording boundaries.
func (e *Engine) LatencyCompensation() int64 { return e.latencyComp }

// SetLatencyCompensation sets the latency compensation in samples,
// clamped to non-negative.
func (e *Engine) SetLatencyCompensation(samples int64) {
	if samples < 0 {
		samples = 0
	}
	e.latencyComp = samples
}

// InputMonitoring reports whether live input is passed through to
// output.
func (e *Engine) InputMonitoring() bool { return e.inputMonitoring }

// SetInputMonitoring enables or disables input pass-through.
func (e *Engine) SetInputMonitoring(on bool) { e.inputMonitoring = on }

// LiveThreshold returns the activity-detection threshold. 0 disables
// detection (every channel is always live).
func (e *Engine) LiveThreshold() float32 { return e.liveThreshold }

// SetLiveThreshold sets the activity-detection threshold.
func (e *Engine) SetLiveThreshold(t float32) { e.liveThreshold = t }

// MetronomeClickEnabled reports whether the audible click is on.
func (e *Engine) MetronomeClickEnabled() bool { return e.click.IsEnabled() }

// SetMetronomeClickEnabled turns the audible click on or off.
func (e *Engine) SetMetronomeClickEnabled(on bool) { e.click.SetEnabled(on) }

// MetronomeClickVolume returns the click's volume.
func (e *Engine) MetronomeClickVolume() float32 { return e.click.Volume() }

// SetMetronomeClickVolume sets the click's volume.
func (e *Engine) SetMetronomeClickVolume(v float32) { e.click.SetVolume(v) }

// MidiSyncEnabled reports whether MIDI clock output is on.
func (e *Engine) MidiSyncEnabled() bool { return e.midiSync.IsEnabled() }

// SetMidiSyncEnabled turns MIDI clock output on or off.
func (e *Engine) SetMidiSyncEnabled(on bool) { e.midiSync.SetEnabled(on) }

// SetCallbacks installs the engine's callback set, rewiring the
// metronome's internal beat/bar hooks to also invoke the new ones.
func (e *Engine) SetCallbacks(cb EngineCallbacks) {
	e.callbacks = cb
	e.wireMetronomeCallbacks()
}

// SetBpmChangedHook registers a callback fired whenever a SetBpm command
// is drained on the audio thread, useful for propagating tempo to an
// external transport.
func (e *Engine) SetBpmChangedHook(fn func(float64)) { e.bpmChangedHook = fn }

// StatusMessage returns the most recent status line produced by the
// engine.
func (e *Engine) StatusMessage() string { return e.messages.latest() }

func (e *Engine) emitMessage(msg string) {
	e.messages.push(msg)
	if e.callbacks.OnMessage != nil {
		e.callbacks.OnMessage(msg)
	}
}

func (e *Engine) emitStateChanged() {
	if e.callbacks.OnStateChanged != nil {
		e.callbacks.OnStateChanged()
	}
}

// Snapshot returns a read-only view of the engine's current state,
// safe to read from any thread.
func (e *Engine) Snapshot() EngineSnapshot {
	e.displayMu.Lock()
	peaks := make([]float32, len(e.channelPeaks))
	copy(peaks, e.channelPeaks)
	e.displayMu.Unlock()

	loops := make([]LoopSnapshot, len(e.loops))
	for i, lp := range e.loops {
		loops[i] = LoopSnapshot{
			ID:            lp.ID(),
			State:         lp.State(),
			LengthSamples: lp.LengthSamples(),
			LengthInBars:  lp.LengthInBars(),
			Layers:        lp.LayerCount(),
			ActiveLayers:  lp.ActiveLayerCount(),
			Speed:         lp.Speed(),
			Reversed:      lp.IsReversed(),
			PlayPosition:  lp.PlayPosition(),
			TimeStretched: lp.isTimeStretchActive(),
		}
	}

	return EngineSnapshot{
		Position:         e.metronome.Position(),
		Bpm:              e.metronome.Bpm(),
		Loops:            loops,
		IsRecording:       e.IsRecording(),
		RecordingLoopIdx: e.RecordingLoopIndex(),
		ChannelPeaks:     peaks,
		LiveChannelMask:  e.LiveChannelMask(),
		DefaultQuantize:  e.defaultQuantize,
		LookbackBars:     e.lookbackBars,
		CrossfadeSamples: e.crossfadeSamples,
		Messages:         e.messages.snapshot(),
	}
}

// ProcessBlock advances the engine by numSamples: it drains pending
// commands, writes input into every channel's history, mixes live
// loops and the metronome click into output, feeds overdub-recording
// loops, and advances the metronome and MIDI clock. Meant to be called
// once per audio callback from the audio thread.
//
// inputs holds one slice per input channel; a nil or short slice is
// treated as silence for the missing samples. output is summed into,
// not overwritten, matching the engine's role as one mix source among
// possibly several.
func (e *Engine) ProcessBlock(inputs [][]float32, output []float32, numSamples int) {
	e.drainCommands()

	numChannels := len(e.inputChannels)

	for i := 0; i < numSamples; i++ {
		for ch := 0; ch < numChannels; ch++ {
			var sample float32
			if ch < len(inputs) && i < len(inputs[ch]) {
				sample = inputs[ch][i]
			}
			e.inputChannels[ch].WriteSample(sample)
			e.channelSamples[ch] = sample
			e.channelActive[ch] = e.inputChannels[ch].IsLive(e.liveThreshold)
		}
		liveMix := dsp.SumActive(e.channelSamples, e.channelActive)

		if e.recording.active {
			e.recording.buffer = append(e.recording.buffer, liveMix)
		}

		currentSample := e.metronome.Position().TotalSamples
		for _, lp := range e.loops {
			if lp.hasPendingOps() {
				e.flushDueOps(lp, currentSample)
			}
		}

		var outSample float32
		for _, lp := range e.loops {
			if !lp.IsEmpty() {
				outSample += lp.ProcessSample()
				if lp.IsRecording() {
					lp.RecordSample(liveMix)
				}
			}
		}

		outSample += e.click.NextSample()

		if e.inputMonitoring {
			outSample += liveMix
		}

		if i < len(output) {
			output[i] += outSample
		}

		e.metronome.Advance(1)
		e.midiSync.Advance(1)
	}

	currentSample := e.metronome.Position().TotalSamples
	var mask uint64
	for ch := 0; ch < numChannels && ch < 64; ch++ {
		if e.inputChannels[ch].IsLive(e.liveThreshold) {
			mask |= uint64(1) << ch
			e.lastBreachSample[ch] = currentSample
		}
	}
	e.liveChannelMask.Store(mask)

	if e.displayMu.TryLock() {
		for ch := 0; ch < numChannels; ch++ {
			e.channelPeaks[ch] = e.inputChannels[ch].PeakLevel()
		}
		e.displayMu.Unlock()
	}
}

// flushDueOps executes any of lp's pending operations whose deadline has
// arrived. Firing order: a due Clear short-circuits everything else
// (it cancels all other pending ops); otherwise capture, record, mute,
// overdub, reverse, speed, then undo/redo are each checked and fired
// independently.
func (e *Engine) flushDueOps(lp *Loop, currentSample int64) {
	p := &lp.pending

	if p.clearActive && p.clear.executeSample <= currentSample {
		lp.Clear()
		e.emitMessage(opMessage(lp.ID(), "cleared"))
		p.clearAll()
		e.emitStateChanged()
		return
	}

	if p.captureActive && p.capture.executeSample <= currentSample {
		capOp := p.capture
		p.captureActive = false
		e.fulfillCapture(lp, capOp)
	}

	if p.recordActive && p.record.executeSample <= currentSample {
		op := p.recordOp
		p.recordActive = false
		if op == recordOpStart {
			e.fulfillRecord(lp)
		} else {
			e.fulfillStopRecord(lp)
		}
	}

	if p.muteActive && p.mute.executeSample <= currentSample {
		op := p.muteOp
		p.muteActive = false
		switch op {
		case muteOpMute:
			lp.Mute()
			e.emitMessage(opMessage(lp.ID(), "muted"))
		case muteOpUnmute:
			lp.Play()
			e.emitMessage(opMessage(lp.ID(), "unmuted"))
		case muteOpToggle:
			lp.ToggleMute()
			if lp.IsMuted() {
				e.emitMessage(opMessage(lp.ID(), "muted"))
			} else {
				e.emitMessage(opMessage(lp.ID(), "unmuted"))
			}
		}
		e.emitStateChanged()
	}

	if p.overdubActive && p.overdub.executeSample <= currentSample {
		op := p.overdubOp
		p.overdubActive = false
		if op == overdubOpStart {
			lp.StartOverdub()
			e.emitMessage(opMessage(lp.ID(), "overdub started"))
		} else {
			lp.StopOverdub()
			e.emitMessage(opMessage(lp.ID(), "overdub stopped"))
		}
		e.emitStateChanged()
	}

	if p.reverseActive && p.reverse.executeSample <= currentSample {
		p.reverseActive = false
		lp.ToggleReverse()
		if lp.IsReversed() {
			e.emitMessage(opMessage(lp.ID(), "reversed"))
		} else {
			e.emitMessage(opMessage(lp.ID(), "forward"))
		}
		e.emitStateChanged()
	}

	if p.speedActive && p.speed.executeSample <= currentSample {
		spd := p.speed.speed
		p.speedActive = false
		lp.SetSpeed(spd)
		e.emitMessage(opMessage(lp.ID(), "speed changed"))
		e.emitStateChanged()
	}

	if p.undoActive && p.undo.executeSample <= currentSample {
		u := p.undo
		p.undoActive = false
		for n := 0; n < u.count; n++ {
			if u.direction == undoDirectionUndo {
				lp.UndoLayer()
			} else {
				lp.RedoLayer()
			}
		}
		verb := "undone"
		if u.direction == undoDirectionRedo {
			verb = "redone"
		}
		e.emitMessage(opMessage(lp.ID(), verb))
		e.emitStateChanged()
	}
}

func opMessage(loopIndex int, what string) string {
	return "Loop " + itoa(loopIndex) + " " + what
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// fulfillCapture reads lookback samples from every input channel's
// history, mixes channels that were live at any point during the
// window to mono, and loads the result into lp.
func (e *Engine) fulfillCapture(lp *Loop, capOp pendingCapture) {
	lookback := capOp.lookbackSamples
	if lookback <= 0 {
		lookback = int64(math.Round(float64(e.lookbackBars) * e.metronome.SamplesPerBar()))
	}

	for _, ch := range e.inputChannels {
		if avail := ch.RingBuffer().Available(); lookback > avail {
			lookback = avail
		}
	}
	if lookback <= 0 {
		e.emitMessage("No audio to capture")
		return
	}

	captureLen := int(lookback)
	samplesAgo := lookback + e.latencyComp
	currentSample := e.metronome.Position().TotalSamples
	captureStartSample := currentSample - samplesAgo

	audio := make([]float32, captureLen)
	liveCount := 0
	chBuf := make([]float32, captureLen)
	for chIdx, ch := range e.inputChannels {
		hadActivity := e.liveThreshold <= 0 || e.lastBreachSample[chIdx] >= captureStartSample
		if !hadActivity {
			continue
		}
		ch.RingBuffer().ReadFromPast(chBuf, samplesAgo)
		for j := range audio {
			audio[j] += chBuf[j]
		}
		liveCount++
	}

	if liveCount == 0 {
		e.emitMessage("No live input channels to capture")
		return
	}

	lp.LoadFromCapture(audio)
	lp.SetCrossfadeSamples(e.crossfadeSamples)

	bars := float64(lookback) / e.metronome.SamplesPerBar()
	lp.SetLengthInBars(bars)
	lp.SetRecordedBpm(e.metronome.Bpm())
	lp.SetCurrentBpm(e.metronome.Bpm())

	e.emitMessage("Loop " + itoa(lp.ID()) + " captured")
	e.emitStateChanged()
}

// fulfillRecord begins a classic recording: input accumulates sample by
// sample (via ProcessBlock) until a matching StopRecord fires.
func (e *Engine) fulfillRecord(lp *Loop) {
	if e.recording.active {
		e.emitMessage("Already recording on Loop " + itoa(e.recording.loopIndex))
		return
	}

	lp.Clear()

	e.recording = activeRecording{
		active:      true,
		loopIndex:   lp.ID(),
		startSample: e.metronome.Position().TotalSamples,
	}

	e.isRecordingFlag.Store(true)
	e.recordingIdx.Store(int32(lp.ID()))

	e.emitMessage("Loop " + itoa(lp.ID()) + " recording...")
	e.emitStateChanged()
}

// fulfillStopRecord ends the active classic recording, trims the
// latency-compensation head, and loads the result into the recording
// loop. A no-op (with a status message) if lp isn't the loop currently
// recording.
func (e *Engine) fulfillStopRecord(lp *Loop) {
	if !e.recording.active {
		e.emitMessage("No active recording")
		return
	}
	if lp.ID() != e.recording.loopIndex {
		e.emitMessage("Stop ignored: recording is on Loop " + itoa(e.recording.loopIndex))
		return
	}

	buf := e.recording.buffer
	if e.latencyComp > 0 {
		if int64(len(buf)) > e.latencyComp {
			buf = buf[e.latencyComp:]
		} else {
			buf = buf[:0]
		}
	}

	if len(buf) == 0 {
		e.emitMessage("No audio recorded")
		e.recording = activeRecording{loopIndex: -1}
		e.isRecordingFlag.Store(false)
		e.recordingIdx.Store(-1)
		return
	}

	lp.LoadFromCapture(buf)
	lp.SetCrossfadeSamples(e.crossfadeSamples)

	bars := float64(lp.LengthSamples()) / e.metronome.SamplesPerBar()
	lp.SetLengthInBars(bars)
	lp.SetRecordedBpm(e.metronome.Bpm())
	lp.SetCurrentBpm(e.metronome.Bpm())

	e.recording = activeRecording{loopIndex: -1}
	e.isRecordingFlag.Store(false)
	e.recordingIdx.Store(-1)

	e.emitMessage("Loop " + itoa(lp.ID()) + " recorded")
	e.emitStateChanged()
}

// ScheduleOp schedules a quantized operation on loopIndex.
func (e *Engine) ScheduleOp(op OpType, loopIndex int, quantize Quantize) {
	e.EnqueueCommand(ScheduleOpCommand(op, loopIndex, quantize))
	e.emitMessage(scheduleMessage(op.String(), quantize))
}

// ScheduleCaptureLoop schedules a capture into loopIndex (or the next
// empty slot if loopIndex is negative) of lookbackBars bars, or the
// engine's default lookback if lookbackBars is 0.
func (e *Engine) ScheduleCaptureLoop(loopIndex int, quantize Quantize, lookbackBars int) {
	target := loopIndex
	if target < 0 {
		target = e.NextEmptySlot()
	}
	bars := lookbackBars
	if bars <= 0 {
		bars = e.lookbackBars
	}
	e.EnqueueCommand(CaptureLoopCommand(target, quantize, bars))
	e.emitMessage(scheduleMessage("Capture -> Loop "+itoa(target), quantize))
}

// ScheduleSetSpeed schedules a playback speed change on loopIndex.
func (e *Engine) ScheduleSetSpeed(loopIndex int, speed float64, quantize Quantize) {
	e.EnqueueCommand(SetSpeedCommand(loopIndex, speed, quantize))
}

// SetBpm schedules a tempo change, applied on the audio thread by
// drainSetBpm: it updates the metronome and MIDI clock, fires the
// BPM-changed hook, and re-evaluates time stretch on every non-empty
// loop via SetCurrentBpm.
func (e *Engine) SetBpm(bpm float64) {
	e.EnqueueCommand(SetBpmCommand(bpm))
	e.emitMessage("BPM -> " + strconv.FormatFloat(bpm, 'f', 1, 64))
}

// ScheduleRecord schedules the start of a classic recording into
// loopIndex (or the next empty slot if negative).
func (e *Engine) ScheduleRecord(loopIndex int, quantize Quantize) {
	target := loopIndex
	if target < 0 {
		target = e.NextEmptySlot()
	}
	e.EnqueueCommand(RecordCommand(target, quantize))
	e.emitMessage(scheduleMessage("Record -> Loop "+itoa(target), quantize))
}

// ScheduleStopRecord schedules the end of the classic recording on
// loopIndex.
func (e *Engine) ScheduleStopRecord(loopIndex int, quantize Quantize) {
	e.EnqueueCommand(StopRecordCommand(loopIndex, quantize))
	e.emitMessage(scheduleMessage("Stop Record", quantize))
}

// ExecuteOpNow schedules op on loopIndex with QuantizeFree, i.e.
// immediate execution on the next processed sample.
func (e *Engine) ExecuteOpNow(op OpType, loopIndex int) {
	if op == OpClearLoop {
		e.ScheduleOp(op, loopIndex, QuantizeFree)
		return
	}
	e.ScheduleOp(op, loopIndex, QuantizeFree)
}

// CancelPending cancels every loop's pending operations.
func (e *Engine) CancelPending() {
	e.EnqueueCommand(CancelPendingCommand())
	e.emitMessage("All pending ops cancelled")
}

// CancelPendingForLoop cancels loopIndex's pending operations directly,
// without going through the command queue (mirrors the upstream's
// synchronous per-loop cancel, which isn't an audio-thread operation).
func (e *Engine) CancelPendingForLoop(loopIndex int) {
	if loopIndex >= 0 && loopIndex < len(e.loops) {
		e.loops[loopIndex].clearPendingOps()
	}
	e.emitStateChanged()
}

func scheduleMessage(desc string, quantize Quantize) string {
	if quantize == QuantizeFree {
		return desc
	}
	when := "next bar"
	if quantize == QuantizeBeat {
		when = "next beat"
	}
	return desc + " (pending: " + when + ")"
}

// computeExecuteSample resolves a quantize mode to an absolute sample
// index on the audio thread's current timeline.
func (e *Engine) computeExecuteSample(quantize Quantize) int64 {
	if quantize == QuantizeFree {
		return e.metronome.Position().TotalSamples
	}
	return e.metronome.Position().TotalSamples + e.metronome.SamplesUntilBoundary(quantize)
}

// drainCommands pops every command currently in the queue and updates
// loop pending state (or engine-global state, for SetBpm/CancelPending)
// accordingly. Called once at the start of every ProcessBlock.
func (e *Engine) drainCommands() {
	for {
		cmd, ok := e.queue.Pop()
		if !ok {
			return
		}

		switch cmd.kind {
		case cmdScheduleOp:
			e.drainScheduleOp(cmd)
		case cmdCaptureLoop:
			e.drainCaptureLoop(cmd)
		case cmdRecord:
			e.drainRecord(cmd, recordOpStart)
		case cmdStopRecord:
			e.drainRecord(cmd, recordOpStop)
		case cmdSetSpeed:
			e.drainSetSpeed(cmd)
		case cmdSetBpm:
			e.drainSetBpm(cmd)
		case cmdCancelPending:
			for _, lp := range e.loops {
				lp.clearPendingOps()
			}
		}
	}
}

func (e *Engine) drainScheduleOp(cmd EngineCommand) {
	lp := e.Loop(cmd.loopIndex)
	if lp == nil {
		return
	}
	p := &lp.pending
	execSample := e.computeExecuteSample(cmd.quantize)

	switch cmd.op {
	case OpMute:
		p.mute = pendingTimedOp{execSample, cmd.quantize}
		p.muteActive = true
		p.muteOp = muteOpMute
	case OpUnmute:
		p.mute = pendingTimedOp{execSample, cmd.quantize}
		p.muteActive = true
		p.muteOp = muteOpUnmute
	case OpToggleMute:
		p.mute = pendingTimedOp{execSample, cmd.quantize}
		p.muteActive = true
		p.muteOp = muteOpToggle
	case OpReverse:
		p.reverse = pendingTimedOp{execSample, cmd.quantize}
		p.reverseActive = true
	case OpStartOverdub:
		p.overdub = pendingTimedOp{execSample, cmd.quantize}
		p.overdubActive = true
		p.overdubOp = overdubOpStart
	case OpStopOverdub:
		p.overdub = pendingTimedOp{execSample, cmd.quantize}
		p.overdubActive = true
		p.overdubOp = overdubOpStop
	case OpUndoLayer:
		if p.undoActive && p.undo.direction == undoDirectionUndo {
			p.undo.count++
		} else {
			p.undo = pendingUndo{execSample, cmd.quantize, 1, undoDirectionUndo}
			p.undoActive = true
		}
	case OpRedoLayer:
		if p.undoActive && p.undo.direction == undoDirectionRedo {
			p.undo.count++
		} else {
			p.undo = pendingUndo{execSample, cmd.quantize, 1, undoDirectionRedo}
			p.undoActive = true
		}
	case OpClearLoop:
		p.clear = pendingTimedOp{execSample, cmd.quantize}
		p.clearActive = true
	}
}

func (e *Engine) drainCaptureLoop(cmd EngineCommand) {
	lp := e.Loop(cmd.loopIndex)
	if lp == nil {
		return
	}
	lookback := int64(math.Round(float64(cmd.lookback) * e.metronome.SamplesPerBar()))
	lp.pending.capture = pendingCapture{
		executeSample:   e.computeExecuteSample(cmd.quantize),
		quantize:        cmd.quantize,
		lookbackSamples: lookback,
	}
	lp.pending.captureActive = true
}

func (e *Engine) drainRecord(cmd EngineCommand, op recordOp) {
	lp := e.Loop(cmd.loopIndex)
	if lp == nil {
		return
	}
	lp.pending.record = pendingTimedOp{e.computeExecuteSample(cmd.quantize), cmd.quantize}
	lp.pending.recordActive = true
	lp.pending.recordOp = op
}

func (e *Engine) drainSetSpeed(cmd EngineCommand) {
	lp := e.Loop(cmd.loopIndex)
	if lp == nil {
		return
	}
	lp.pending.speed = pendingSpeed{e.computeExecuteSample(cmd.quantize), cmd.quantize, cmd.value}
	lp.pending.speedActive = true
}

func (e *Engine) drainSetBpm(cmd EngineCommand) {
	e.metronome.SetBpm(cmd.value)
	e.midiSync.SetBpm(cmd.value)
	if e.bpmChangedHook != nil {
		e.bpmChangedHook(cmd.value)
	}
	newBpm := e.metronome.Bpm()
	for _, lp := range e.loops {
		if !lp.IsEmpty() {
			lp.SetCurrentBpm(newBpm)
		}
	}
}
