package engine

// MIDI system real-time status bytes used for clock sync.
const (
	MidiClockTick byte = 0xF8
	MidiStart     byte = 0xFA
	MidiContinue  byte = 0xFB
	MidiStop      byte = 0xFC
)

// PPQN is pulses (clock ticks) per quarter note, the MIDI clock standard.
const PPQN = 24

// MidiSendFunc transmits a single MIDI system real-time status byte.
type MidiSendFunc func(statusByte byte)

// MidiSync generates MIDI clock sync messages (24 PPQN) in step with the
// metronome's tempo, independent of any concrete MIDI transport: it calls
// a caller-supplied send function rather than owning a device.
type MidiSync struct {
	bpm            float64
	sampleRate     float64
	samplesPerTick float64
	sampleInTick   float64
	enabled        bool

	send MidiSendFunc
}

// NewMidiSync creates a clock generator at the given tempo and sample
// rate. Output starts disabled.
func NewMidiSync(bpm, sampleRate float64) *MidiSync {
	m := &MidiSync{bpm: bpm, sampleRate: sampleRate}
	m.recalculate()
	return m
}

func (m *MidiSync) recalculate() {
	samplesPerBeat := (60.0 / m.bpm) * m.sampleRate
	m.samplesPerTick = samplesPerBeat / PPQN
}

// Advance moves the clock forward by numSamples, sending a clock tick
// byte for every tick boundary crossed. A no-op while disabled.
func (m *MidiSync) Advance(numSamples int) {
	if !m.enabled || numSamples <= 0 {
		return
	}
	for n := 0; n < numSamples; n++ {
		m.sampleInTick++
		if m.sampleInTick >= m.samplesPerTick {
			m.sampleInTick -= m.samplesPerTick
			m.sendByte(MidiClockTick)
		}
	}
}

// SetBpm updates tempo, recalculating the tick interval while preserving
// the fractional position within the current tick.
func (m *MidiSync) SetBpm(bpm float64) {
	fraction := m.tickFraction()
	m.bpm = clampBpm(bpm)
	m.recalculate()
	m.sampleInTick = fraction * m.samplesPerTick
}

// Bpm returns the current tempo.
func (m *MidiSync) Bpm() float64 { return m.bpm }

// SetSampleRate updates the sample rate, preserving tick phase.
func (m *MidiSync) SetSampleRate(rate float64) {
	fraction := m.tickFraction()
	m.sampleRate = rate
	m.recalculate()
	m.sampleInTick = fraction * m.samplesPerTick
}

func (m *MidiSync) tickFraction() float64 {
	if m.samplesPerTick > 0 {
		return m.sampleInTick / m.samplesPerTick
	}
	return 0
}

// SetEnabled turns MIDI sync output on or off. Enabling sends Start and
// resets tick phase; disabling sends Stop.
func (m *MidiSync) SetEnabled(on bool) {
	if on == m.enabled {
		return
	}
	m.enabled = on
	if on {
		m.sampleInTick = 0
		m.sendByte(MidiStart)
	} else {
		m.sendByte(MidiStop)
	}
}

// IsEnabled reports whether MIDI sync output is on.
func (m *MidiSync) IsEnabled() bool { return m.enabled }

// SetSendFunc wires the function used to transmit MIDI bytes.
func (m *MidiSync) SetSendFunc(fn MidiSendFunc) { m.send = fn }

// HasOutput reports whether a send function is wired up.
func (m *MidiSync) HasOutput() bool { return m.send != nil }

func (m *MidiSync) sendByte(b byte) {
	if m.send != nil {
		m.send(b)
	}
}
