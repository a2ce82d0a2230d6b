package engine

import "math"

// Click duration and decay constants for the metronome's audible tick.
const (
	clickDuration = 0.03  // seconds
	clickDecayTau = 0.006 // exponential decay time constant, seconds
)

// MetronomeClick synthesizes a short percussive click: a decaying sine
// wave, pitched higher and louder on downbeats than on ordinary beats.
type MetronomeClick struct {
	sampleRate float64
	enabled    bool
	volume     float32

	active      bool
	phase       float64
	freq        float64
	clickGain   float32
	sampleIndex int
}

// NewMetronomeClick creates a click generator at the given sample rate,
// enabled with default volume.
func NewMetronomeClick(sampleRate float64) *MetronomeClick {
	return &MetronomeClick{
		sampleRate: sampleRate,
		enabled:    true,
		volume:     0.5,
	}
}

// Trigger starts a click. Downbeats get a higher frequency and more gain
// than ordinary beats. A no-op when disabled.
func (c *MetronomeClick) Trigger(isDownbeat bool) {
	if !c.enabled {
		return
	}
	c.phase = 0
	c.sampleIndex = 0
	c.active = true
	if isDownbeat {
		c.freq = 1000.0
		c.clickGain = 1.0
	} else {
		c.freq = 800.0
		c.clickGain = 0.75
	}
}

// NextSample returns the click's next output sample, 0 when inactive.
func (c *MetronomeClick) NextSample() float32 {
	if !c.active {
		return 0
	}

	t := float64(c.sampleIndex) / c.sampleRate
	if t >= clickDuration {
		c.active = false
		return 0
	}

	envelope := float32(math.Exp(-t / clickDecayTau))
	sample := float32(math.Sin(c.phase)) * envelope
	c.phase += 2.0 * math.Pi * c.freq / c.sampleRate

	c.sampleIndex++
	return sample * c.volume * c.clickGain
}

// SetEnabled turns the click generator on or off.
func (c *MetronomeClick) SetEnabled(on bool) { c.enabled = on }

// IsEnabled reports whether the click generator is on.
func (c *MetronomeClick) IsEnabled() bool { return c.enabled }

// SetVolume sets overall click volume.
func (c *MetronomeClick) SetVolume(v float32) { c.volume = v }

// Volume returns the current click volume.
func (c *MetronomeClick) Volume() float32 { return c.volume }

// SetSampleRate updates the sample rate used for envelope and oscillator
// timing.
func (c *MetronomeClick) SetSampleRate(sr float64) { c.sampleRate = sr }
