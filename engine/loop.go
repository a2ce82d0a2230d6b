package engine

import "math"

// LoopState is the playback/recording state of a Loop.
type LoopState int

const (
	LoopEmpty     LoopState = iota // no audio loaded
	LoopPlaying                    // playing back
	LoopMuted                      // has audio but not outputting
	LoopRecording                  // overdubbing a new layer
)

func (s LoopState) String() string {
	switch s {
	case LoopEmpty:
		return "Empty"
	case LoopPlaying:
		return "Playing"
	case LoopMuted:
		return "Muted"
	case LoopRecording:
		return "Recording"
	default:
		return "Unknown"
	}
}

const (
	minSpeed = 0.25
	maxSpeed = 4.0

	// bpmDeltaForStretch is the minimum |current-recorded| BPM gap
	// before time stretch engages; below it the two tempos are close
	// enough that stretching would add artifacts for no audible gain.
	bpmDeltaForStretch = 0.5

	// Time-stretch working-buffer sizes. stretchBlockSize is how many
	// output samples fillStretchBuffer produces per call; the input and
	// ring buffer are sized with headroom for the fastest tempo ratio
	// (4x) so a full refill never needs more input than is available.
	stretchBlockSize    = 256
	stretchMaxInput     = 1024
	stretchRingCapacity = 2048
)

// LoopLayer is one take within a loop: overdubs append layers, undo
// deactivates the most recent one, redo reactivates it.
type LoopLayer struct {
	audio  []float32
	gain   float32
	active bool
}

// Loop is a multi-layer audio loop with overdub, undo/redo, reverse,
// variable speed, crossfade, and tempo-following time stretch. The
// length is fixed by whichever layer loads first (capture or classic
// record) and every later layer is resized to match.
type Loop struct {
	id         int
	sampleRate float64

	layers     []LoopLayer
	state      LoopState
	loopLength int64

	playPos       int64
	fractionalPos float64
	reversed      bool
	speed         float64

	crossfadeSamples int
	lengthInBars     float64

	recordedBpm float64
	currentBpm  float64

	stretcher         Stretcher
	stretchBuf        []float32
	stretchBufRead    int
	stretchBufAvail   int
	stretchInputWork  []float32
	stretchOutputWork []float32
	stretchRawPos     int64

	pending pendingState
}

// NewLoop creates an empty loop. sampleRate configures the time
// stretcher lazily created the first time audio is loaded.
func NewLoop(id int, sampleRate float64) *Loop {
	return &Loop{
		id:               id,
		sampleRate:       sampleRate,
		speed:            1.0,
		crossfadeSamples: 256,
	}
}

// ID returns the loop's fixed slot index.
func (l *Loop) ID() int { return l.id }

// State returns the loop's current playback state.
func (l *Loop) State() LoopState { return l.state }
func (l *Loop) IsEmpty() bool     { return l.state == LoopEmpty }
func (l *Loop) IsPlaying() bool   { return l.state == LoopPlaying }
func (l *Loop) IsMuted() bool     { return l.state == LoopMuted }
func (l *Loop) IsRecording() bool { return l.state == LoopRecording }

// LengthSamples returns the loop's fixed length.
func (l *Loop) LengthSamples() int64 { return l.loopLength }

// PlayPosition returns the current raw read position: in stretched
// mode this is the position the stretcher is consuming from, not the
// stretched output index.
func (l *Loop) PlayPosition() int64 {
	if l.isTimeStretchActive() {
		return l.stretchRawPos % l.loopLength
	}
	return l.playPos
}

// SetPlayPosition jumps the loop to pos, resetting fractional state.
func (l *Loop) SetPlayPosition(pos int64) {
	if l.loopLength <= 0 {
		return
	}
	l.playPos = pos % l.loopLength
	l.stretchRawPos = l.playPos
	l.fractionalPos = 0
}

// IsReversed reports whether playback direction is reversed.
func (l *Loop) IsReversed() bool { return l.reversed }

// Speed returns the current playback speed multiplier.
func (l *Loop) Speed() float64 { return l.speed }

// LayerCount returns the total number of layers, active or not.
func (l *Loop) LayerCount() int { return len(l.layers) }

// ActiveLayerCount returns how many layers currently contribute to
// output.
func (l *Loop) ActiveLayerCount() int {
	n := 0
	for _, layer := range l.layers {
		if layer.active {
			n++
		}
	}
	return n
}

// LengthInBars returns the bar count recorded at capture/record time.
func (l *Loop) LengthInBars() float64 { return l.lengthInBars }

// SetLengthInBars overrides the recorded bar count.
func (l *Loop) SetLengthInBars(bars float64) { l.lengthInBars = bars }

// CrossfadeSamples returns the configured crossfade length.
func (l *Loop) CrossfadeSamples() int { return l.crossfadeSamples }

// SetCrossfadeSamples sets the crossfade length applied at loop
// boundaries.
func (l *Loop) SetCrossfadeSamples(samples int) { l.crossfadeSamples = samples }

// RecordedBpm returns the tempo the loop was captured/recorded at.
func (l *Loop) RecordedBpm() float64 { return l.recordedBpm }

// SetRecordedBpm sets the tempo the loop was captured/recorded at.
func (l *Loop) SetRecordedBpm(bpm float64) { l.recordedBpm = bpm }

// CurrentBpm returns the engine's current tempo as last propagated to
// this loop.
func (l *Loop) CurrentBpm() float64 { return l.currentBpm }

func (l *Loop) hasPendingOps() bool   { return l.pending.hasAny() }
func (l *Loop) clearPendingOps()      { l.pending.clearAll() }

// LoadFromCapture installs audio as the loop's base layer, replacing
// all prior state and entering Playing.
func (l *Loop) LoadFromCapture(audio []float32) {
	l.Clear()
	l.loopLength = int64(len(audio))
	l.layers = append(l.layers, LoopLayer{audio: audio, gain: 1.0, active: true})
	l.state = LoopPlaying
	l.playPos = 0
	l.fractionalPos = 0

	l.ensureStretchResources()
}

// ensureStretchResources pre-allocates every buffer the time-stretch
// path can touch, so entering stretched playback never allocates.
func (l *Loop) ensureStretchResources() {
	if l.stretcher == nil {
		l.stretcher = newWsolaStretcher()
	}
	l.stretcher.Configure(l.sampleRate)
	if l.stretchBuf == nil {
		l.stretchBuf = make([]float32, stretchRingCapacity)
		l.stretchInputWork = make([]float32, stretchMaxInput)
		l.stretchOutputWork = make([]float32, stretchBlockSize)
	}
	l.stretchBufRead = 0
	l.stretchBufAvail = 0
	l.stretchRawPos = 0
}

// AddLayer appends an overdub layer, resizing it to match loopLength
// (truncating or zero-extending).
func (l *Loop) AddLayer(audio []float32) {
	if l.loopLength == 0 {
		return
	}
	resized := make([]float32, l.loopLength)
	copy(resized, audio)
	l.layers = append(l.layers, LoopLayer{audio: resized, gain: 1.0, active: true})
}

// UndoLayer deactivates the most recent active non-base layer.
func (l *Loop) UndoLayer() {
	for i := len(l.layers) - 1; i > 0; i-- {
		if l.layers[i].active {
			l.layers[i].active = false
			return
		}
	}
}

// RedoLayer reactivates the earliest inactive layer.
func (l *Loop) RedoLayer() {
	for i := 1; i < len(l.layers); i++ {
		if !l.layers[i].active {
			l.layers[i].active = true
			return
		}
	}
}

func (l *Loop) getMixedSample(pos int64) float32 {
	if pos < 0 || pos >= l.loopLength {
		return 0
	}
	var mix float32
	for _, layer := range l.layers {
		if layer.active {
			mix += layer.audio[pos] * layer.gain
		}
	}
	return mix
}

func (l *Loop) crossfadeGain(pos int64) float32 {
	cf := int64(l.crossfadeSamples)
	if cf <= 0 || l.loopLength <= cf*2 {
		return 1.0
	}
	if pos < cf {
		return float32(pos) / float32(cf)
	}
	distFromEnd := l.loopLength - 1 - pos
	if distFromEnd < cf {
		return float32(distFromEnd) / float32(cf)
	}
	return 1.0
}

// ProcessSample returns one mixed output sample and advances playback.
// Returns 0 when empty or muted.
func (l *Loop) ProcessSample() float32 {
	if l.state == LoopEmpty || l.state == LoopMuted {
		return 0
	}
	if l.isTimeStretchActive() {
		return l.processStretchedSample()
	}
	return l.processDirectSample()
}

func (l *Loop) processDirectSample() float32 {
	var readPos int64
	if l.reversed {
		readPos = l.loopLength - 1 - l.playPos
	} else {
		readPos = l.playPos
	}

	sample := l.getMixedSample(readPos) * l.crossfadeGain(readPos)

	l.fractionalPos += l.speed
	advance := int64(l.fractionalPos)
	l.fractionalPos -= float64(advance)
	l.playPos = (l.playPos + advance) % l.loopLength

	return sample
}

func (l *Loop) processStretchedSample() float32 {
	needed := int(math.Ceil(l.speed)) + 1
	for l.stretchBufAvail < needed {
		l.fillStretchBuffer()
	}

	sample := l.stretchBuf[l.stretchBufRead]

	l.fractionalPos += l.speed
	advance := int(l.fractionalPos)
	l.fractionalPos -= float64(advance)

	l.stretchBufRead = (l.stretchBufRead + advance) % stretchRingCapacity
	l.stretchBufAvail -= advance

	l.playPos = l.stretchRawPos % l.loopLength

	return sample
}

func (l *Loop) fillStretchBuffer() {
	if l.stretcher == nil || !l.stretcher.IsConfigured() {
		return
	}
	if l.recordedBpm <= 0 || l.currentBpm <= 0 {
		return
	}

	tempoRatio := l.currentBpm / l.recordedBpm
	tempoRatio = math.Max(minSpeed, math.Min(tempoRatio, maxSpeed))

	inputNeeded := int(math.Ceil(float64(stretchBlockSize) * tempoRatio))
	if inputNeeded < 1 {
		inputNeeded = 1
	}
	if inputNeeded > stretchMaxInput {
		inputNeeded = stretchMaxInput
	}

	for i := 0; i < inputNeeded; i++ {
		var pos int64
		if l.reversed {
			rawMod := l.stretchRawPos % l.loopLength
			pos = l.loopLength - 1 - rawMod
		} else {
			pos = l.stretchRawPos % l.loopLength
		}
		l.stretchInputWork[i] = l.getMixedSample(pos) * l.crossfadeGain(pos)
		l.stretchRawPos = (l.stretchRawPos + 1) % l.loopLength
	}

	l.stretcher.Process(l.stretchInputWork[:inputNeeded], l.stretchOutputWork)

	for i := 0; i < stretchBlockSize; i++ {
		writeIdx := (l.stretchBufRead + l.stretchBufAvail + i) % stretchRingCapacity
		l.stretchBuf[writeIdx] = l.stretchOutputWork[i]
	}
	l.stretchBufAvail += stretchBlockSize
}

// ProcessBlock adds len(output) samples of mixed output into output,
// advancing playback by the same amount.
func (l *Loop) ProcessBlock(output []float32) {
	for i := range output {
		output[i] += l.ProcessSample()
	}
}

// RecordSample adds input to the newest layer at the current read
// position. A no-op unless the loop is in Recording state.
func (l *Loop) RecordSample(input float32) {
	if l.state != LoopRecording || len(l.layers) == 0 {
		return
	}

	recordLayer := &l.layers[len(l.layers)-1]
	var pos int64
	if l.isTimeStretchActive() {
		rawMod := l.stretchRawPos % l.loopLength
		if l.reversed {
			pos = l.loopLength - 1 - rawMod
		} else {
			pos = rawMod
		}
	} else {
		if l.reversed {
			pos = l.loopLength - 1 - l.playPos
		} else {
			pos = l.playPos
		}
	}
	if pos >= 0 && pos < l.loopLength {
		recordLayer.audio[pos] += input
	}
}

// Play moves a non-empty loop to Playing.
func (l *Loop) Play() {
	if l.state != LoopEmpty {
		l.state = LoopPlaying
	}
}

// Mute moves a non-empty loop to Muted.
func (l *Loop) Mute() {
	if l.state != LoopEmpty {
		l.state = LoopMuted
	}
}

// ToggleMute flips between Playing and Muted; a no-op in any other
// state.
func (l *Loop) ToggleMute() {
	switch l.state {
	case LoopPlaying:
		l.state = LoopMuted
	case LoopMuted:
		l.state = LoopPlaying
	}
}

// StartOverdub appends a new zero-filled layer and enters Recording.
func (l *Loop) StartOverdub() {
	if l.state == LoopEmpty || l.loopLength == 0 {
		return
	}
	newLayer := make([]float32, l.loopLength)
	l.layers = append(l.layers, LoopLayer{audio: newLayer, gain: 1.0, active: true})
	l.state = LoopRecording
}

// StopOverdub returns a Recording loop to Playing.
func (l *Loop) StopOverdub() {
	if l.state == LoopRecording {
		l.state = LoopPlaying
	}
}

// ToggleReverse flips playback direction.
func (l *Loop) ToggleReverse() { l.reversed = !l.reversed }

// SetSpeed sets playback speed, clamped to [0.25, 4.0].
func (l *Loop) SetSpeed(speed float64) {
	l.speed = math.Max(minSpeed, math.Min(speed, maxSpeed))
}

// SetCurrentBpm updates the engine's tempo as seen by this loop,
// activating or deactivating time stretch as needed. Transitioning
// between modes resets the stretcher and transfers the raw play
// position so playback stays continuous.
func (l *Loop) SetCurrentBpm(bpm float64) {
	wasActive := l.isTimeStretchActive()
	l.currentBpm = bpm
	nowActive := l.isTimeStretchActive()

	if !wasActive && nowActive {
		l.stretchRawPos = l.playPos
		l.stretchBufRead = 0
		l.stretchBufAvail = 0
		l.fractionalPos = 0
		if l.stretcher != nil {
			l.stretcher.Reset()
		}
	} else if wasActive && !nowActive {
		l.playPos = l.stretchRawPos % l.loopLength
		l.fractionalPos = 0
	}
}

func (l *Loop) isTimeStretchActive() bool {
	return !l.IsEmpty() && l.recordedBpm > 0 && l.currentBpm > 0 &&
		math.Abs(l.currentBpm-l.recordedBpm) > bpmDeltaForStretch
}

// Clear resets the loop to Empty, discarding all layers and
// time-stretch state.
func (l *Loop) Clear() {
	l.layers = nil
	l.state = LoopEmpty
	l.loopLength = 0
	l.playPos = 0
	l.fractionalPos = 0
	l.reversed = false
	l.speed = 1.0
	l.lengthInBars = 0

	l.stretcher = nil
	l.stretchBuf = nil
	l.stretchInputWork = nil
	l.stretchOutputWork = nil
	l.stretchBufRead = 0
	l.stretchBufAvail = 0
	l.stretchRawPos = 0
	l.recordedBpm = 0
	l.currentBpm = 0
}
