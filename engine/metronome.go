package engine

import "math"

// Quantize selects the boundary a scheduled operation should wait for.
type Quantize int

const (
	QuantizeFree Quantize = iota // execute on the very next sample
	QuantizeBeat                 // snap to the next beat boundary
	QuantizeBar                  // snap to the next bar boundary
)

const (
	minBpm = 1.0
	maxBpm = 999.0

	minBeatsPerBar = 1
	maxBeatsPerBar = 16
)

// MetronomePosition is a snapshot of the metronome's timeline at one
// instant.
type MetronomePosition struct {
	TotalSamples int64
	Bar          int
	Beat         int
	BeatFraction float64

	// BeatsPerBar is carried on the position (not just the metronome) so
	// AbsoluteBeat can be computed correctly even if the time signature
	// changes between when a position is captured and when it is used.
	BeatsPerBar int
}

// AbsoluteBeat returns the beat count from the start of the timeline.
func (p MetronomePosition) AbsoluteBeat() int64 {
	beatsPerBar := p.BeatsPerBar
	if beatsPerBar <= 0 {
		beatsPerBar = 1
	}
	return int64(p.Bar)*int64(beatsPerBar) + int64(p.Beat)
}

// BeatCallback and BarCallback fire when the metronome crosses a beat or
// bar boundary during Advance.
type BeatCallback func(MetronomePosition)
type BarCallback func(MetronomePosition)

// Metronome tracks tempo and provides beat/bar positions, advanced
// sample-by-sample from the engine's per-block loop.
//
// bar, beat and sampleInBeat are running counters updated incrementally
// by Advance, not derived by dividing totalSamples. That is what lets
// SetBpm and SetSampleRate rescale sampleInBeat in place (the same
// technique MidiSync uses for sampleInTick) instead of having the whole
// timeline's bar/beat history jump when samplesPerBeat changes.
// totalSamples itself stays a plain monotonic counter: it is the
// authoritative sample clock and is never rebased.
type Metronome struct {
	bpm         float64
	beatsPerBar int
	sampleRate  float64
	running     bool

	samplesPerBeat float64
	samplesPerBar  float64

	totalSamples int64
	bar          int
	beat         int
	sampleInBeat float64

	onBeat BeatCallback
	onBar  BarCallback
}

// NewMetronome creates a metronome at the given tempo, time signature,
// and sample rate. bpm and beatsPerBar are clamped to the same ranges
// SetBpm/SetBeatsPerBar enforce.
func NewMetronome(bpm float64, beatsPerBar int, sampleRate float64) *Metronome {
	m := &Metronome{
		bpm:         clampBpm(bpm),
		beatsPerBar: clampBeatsPerBar(beatsPerBar),
		sampleRate:  sampleRate,
		running:     true,
	}
	m.recalculate()
	return m
}

func clampBpm(bpm float64) float64 {
	return math.Max(minBpm, math.Min(bpm, maxBpm))
}

func clampBeatsPerBar(beats int) int {
	if beats < minBeatsPerBar {
		return minBeatsPerBar
	}
	if beats > maxBeatsPerBar {
		return maxBeatsPerBar
	}
	return beats
}

func (m *Metronome) recalculate() {
	m.samplesPerBeat = (60.0 / m.bpm) * m.sampleRate
	m.samplesPerBar = m.samplesPerBeat * float64(m.beatsPerBar)
}

// OnBeat registers the callback fired on every beat boundary crossed
// during Advance.
func (m *Metronome) OnBeat(cb BeatCallback) { m.onBeat = cb }

// OnBar registers the callback fired on every bar boundary crossed
// during Advance (a bar boundary is a beat boundary at beat 0).
func (m *Metronome) OnBar(cb BarCallback) { m.onBar = cb }

// Position returns the current position on the timeline.
func (m *Metronome) Position() MetronomePosition {
	return MetronomePosition{
		TotalSamples: m.totalSamples,
		Bar:          m.bar,
		Beat:         m.beat,
		BeatFraction: m.beatFraction(),
		BeatsPerBar:  m.beatsPerBar,
	}
}

func (m *Metronome) beatFraction() float64 {
	if m.samplesPerBeat <= 0 {
		return 0
	}
	f := m.sampleInBeat / m.samplesPerBeat
	if f < 0 || f >= 1 {
		return 0
	}
	return f
}

// samplesToNextBeat returns how far, in samples, the current beat
// boundary still is.
func (m *Metronome) samplesToNextBeat() float64 {
	return m.samplesPerBeat - m.sampleInBeat
}

// Advance moves the timeline forward by numSamples, firing OnBeat/OnBar
// for every boundary crossed. Callbacks receive the position at the
// boundary sample, not at the end of the advance.
func (m *Metronome) Advance(numSamples int) {
	if !m.running || numSamples <= 0 {
		return
	}

	remaining := numSamples
	for remaining > 0 {
		toBoundary := m.samplesToNextBeat()
		if toBoundary > float64(remaining) {
			m.sampleInBeat += float64(remaining)
			m.totalSamples += int64(remaining)
			break
		}

		step := int64(math.Round(toBoundary))
		if step <= 0 {
			step = 1
		}
		if step > int64(remaining) {
			step = int64(remaining)
		}

		m.totalSamples += step
		remaining -= int(step)
		m.sampleInBeat = 0
		m.beat++
		if m.beat >= m.beatsPerBar {
			m.beat = 0
			m.bar++
		}

		pos := m.Position()
		if m.onBeat != nil {
			m.onBeat(pos)
		}
		if pos.Beat == 0 && m.onBar != nil {
			m.onBar(pos)
		}
	}
}

// Reset returns the timeline to sample 0, bar 0, beat 0.
func (m *Metronome) Reset() {
	m.totalSamples = 0
	m.bar = 0
	m.beat = 0
	m.sampleInBeat = 0
}

// NextBeatSample returns the sample index of the next beat boundary.
func (m *Metronome) NextBeatSample() int64 {
	return m.totalSamples + int64(math.Round(m.samplesToNextBeat()))
}

// NextBarSample returns the sample index of the next bar boundary.
func (m *Metronome) NextBarSample() int64 {
	beatsRemaining := float64(m.beatsPerBar - m.beat - 1)
	d := m.samplesToNextBeat() + beatsRemaining*m.samplesPerBeat
	return m.totalSamples + int64(math.Round(d))
}

// SamplesUntilBoundary returns how many samples remain until q's next
// boundary: 0 for QuantizeFree.
func (m *Metronome) SamplesUntilBoundary(q Quantize) int64 {
	switch q {
	case QuantizeFree:
		return 0
	case QuantizeBeat:
		return m.NextBeatSample() - m.totalSamples
	case QuantizeBar:
		return m.NextBarSample() - m.totalSamples
	default:
		return 0
	}
}

// SamplesPerBeat returns the current samples-per-beat at the current
// tempo and sample rate.
func (m *Metronome) SamplesPerBeat() float64 { return m.samplesPerBeat }

// SamplesPerBar returns the current samples-per-bar.
func (m *Metronome) SamplesPerBar() float64 { return m.samplesPerBar }

// SetBpm updates the tempo, clamped to [1, 999]. The fractional position
// within the current beat is preserved (phase-continuous), the same way
// MidiSync.SetBpm rebases sampleInTick.
func (m *Metronome) SetBpm(bpm float64) {
	fraction := m.beatFraction()
	m.bpm = clampBpm(bpm)
	m.recalculate()
	m.sampleInBeat = fraction * m.samplesPerBeat
}

// Bpm returns the current tempo.
func (m *Metronome) Bpm() float64 { return m.bpm }

// SetBeatsPerBar updates the time signature, clamped to [1, 16]. If the
// current beat no longer fits the new bar length it rolls forward into
// later bars rather than being silently clamped into range.
func (m *Metronome) SetBeatsPerBar(beats int) {
	m.beatsPerBar = clampBeatsPerBar(beats)
	m.recalculate()
	if m.beat >= m.beatsPerBar {
		m.bar += m.beat / m.beatsPerBar
		m.beat %= m.beatsPerBar
	}
}

// BeatsPerBar returns the current time signature numerator.
func (m *Metronome) BeatsPerBar() int { return m.beatsPerBar }

// SetSampleRate updates the sample rate, preserving beat phase the same
// way SetBpm does.
func (m *Metronome) SetSampleRate(rate float64) {
	fraction := m.beatFraction()
	m.sampleRate = rate
	m.recalculate()
	m.sampleInBeat = fraction * m.samplesPerBeat
}

// SampleRate returns the configured sample rate.
func (m *Metronome) SampleRate() float64 { return m.sampleRate }

// SetRunning starts or stops the timeline from advancing.
func (m *Metronome) SetRunning(run bool) { m.running = run }

// IsRunning reports whether Advance currently moves the timeline.
func (m *Metronome) IsRunning() bool { return m.running }

// TotalSamples returns the raw sample counter.
func (m *Metronome) TotalSamples() int64 { return m.totalSamples }
