package engine

import (
	"math"

	"retrospect/dsp"
)

// Stretcher is the time-stretch algorithm's contract: configure once for
// a sample rate, then repeatedly process a block of raw input samples
// into a block of output samples whose length need not match the
// input's. The ratio of input to output length sets the tempo change;
// pitch is preserved regardless of that ratio. Reset must be called
// whenever the input stream becomes discontinuous (for example when
// stretched playback is first activated). Loop treats its own
// wrap-around as continuous input and does not call Reset there.
//
// Implementations must not allocate inside Process once Configure has
// run: Process is called from the audio thread.
type Stretcher interface {
	Configure(sampleRate float64)
	Process(input, output []float32)
	Reset()
	IsConfigured() bool
}

// Grain size and hop for the overlap-add windows. 50% overlap (hop =
// half the grain) is the standard WSOLA compromise between smoothing
// and transient smearing. maxStretchOutputBlock bounds the output
// length Process is ever called with, so its scratch buffers can be
// sized once at Configure and never grow.
const (
	stretchGrainSize      = 512
	stretchHopOut         = stretchGrainSize / 2
	stretchTailLen        = stretchGrainSize - stretchHopOut
	maxStretchOutputBlock = 1024
)

// wsolaStretcher is an overlap-add time stretcher in the WSOLA family: it
// reads grains of the input at a variable hop rate and crossfades them
// together at a fixed output hop rate, which changes duration without
// changing pitch (unlike plain resampling, which changes both). Each
// grain is read at its nominal position; there is no waveform-similarity
// search to shift grains into alignment. Grain positioning uses cubic
// interpolation for sub-sample accuracy.
type wsolaStretcher struct {
	sampleRate float64
	configured bool

	window []float32 // Hann window, length stretchGrainSize, built once
	grain  []float32 // scratch: one windowed grain, reused every hop

	spanAccum  []float32 // per-call overlap-add accumulator, sized once
	spanWeight []float32 // matching window-weight sum, for normalization

	tailAccum  []float32 // unflushed overlap carried from the previous call
	tailWeight []float32

	readPos float64 // fractional input read position, carried across calls
}

// newWsolaStretcher allocates all working buffers up front so Process
// never allocates.
func newWsolaStretcher() *wsolaStretcher {
	span := maxStretchOutputBlock + stretchGrainSize
	return &wsolaStretcher{
		window:     make([]float32, stretchGrainSize),
		grain:      make([]float32, stretchGrainSize),
		spanAccum:  make([]float32, span),
		spanWeight: make([]float32, span),
		tailAccum:  make([]float32, stretchTailLen),
		tailWeight: make([]float32, stretchTailLen),
	}
}

func (s *wsolaStretcher) Configure(sampleRate float64) {
	s.sampleRate = sampleRate
	for i := range s.window {
		// Hann window: 0 at both edges, 1 at center.
		frac := float64(i) / float64(len(s.window)-1)
		s.window[i] = float32(0.5 * (1 - math.Cos(2*math.Pi*frac)))
	}
	s.configured = true
	s.Reset()
}

func (s *wsolaStretcher) IsConfigured() bool { return s.configured }

// Reset clears overlap history and rewinds the fractional read
// position. Call whenever the upstream raw position jumps
// discontinuously.
func (s *wsolaStretcher) Reset() {
	clear(s.tailAccum)
	clear(s.tailWeight)
	s.readPos = 0
}

// Process fills output with stretched audio derived from input. The
// ratio len(input)/len(output) sets the tempo change: more input than
// output speeds up, less slows down.
func (s *wsolaStretcher) Process(input, output []float32) {
	if !s.configured || len(output) == 0 {
		return
	}
	if len(input) == 0 {
		clear(output)
		return
	}
	if len(output) > maxStretchOutputBlock {
		output = output[:maxStretchOutputBlock]
	}

	ratio := float64(len(input)) / float64(len(output))

	// accum/weight cover this call's output plus the grain tail that can
	// hang off the end, addressed relative to output[0].
	span := len(output) + stretchGrainSize
	accumBuf := s.spanAccum[:span]
	weightBuf := s.spanWeight[:span]
	clear(accumBuf)
	clear(weightBuf)

	// Seed with the carried-over tail from the previous call so grains
	// straddling a call boundary still crossfade smoothly.
	copy(accumBuf[:stretchTailLen], s.tailAccum)
	copy(weightBuf[:stretchTailLen], s.tailWeight)

	for outStart := 0; outStart < len(output); outStart += stretchHopOut {
		s.readGrain(input)
		for i, w := range s.window {
			pos := outStart + i
			if pos >= span {
				break
			}
			accumBuf[pos] += s.grain[i] * w
			weightBuf[pos] += w
		}
		s.readPos += float64(stretchHopOut) * ratio
	}

	for i := range output {
		if weightBuf[i] > 1e-9 {
			output[i] = accumBuf[i] / weightBuf[i]
		} else {
			output[i] = 0
		}
	}

	copy(s.tailAccum, accumBuf[len(output):len(output)+stretchTailLen])
	copy(s.tailWeight, weightBuf[len(output):len(output)+stretchTailLen])

	// The next call's input picks up immediately after what this call
	// consumed, so fold the consumed length out of the carried position.
	consumed := float64(len(input))
	if s.readPos >= consumed {
		s.readPos -= consumed
	}
}

// readGrain fills s.grain by cubic-interpolating stretchGrainSize
// samples out of input starting at the current fractional read
// position, zero-padding past input's end.
func (s *wsolaStretcher) readGrain(input []float32) {
	for i := range s.grain {
		pos := s.readPos + float64(i)
		s.grain[i] = sampleCubic(input, pos)
	}
}

// sampleCubic reads a cubic-interpolated sample at fractional position
// pos within samples, treating out-of-range taps as zero.
func sampleCubic(samples []float32, pos float64) float32 {
	i0 := int(math.Floor(pos))
	frac := float32(pos - float64(i0))

	at := func(idx int) float32 {
		if idx < 0 || idx >= len(samples) {
			return 0
		}
		return samples[idx]
	}

	return dsp.CubicInterpolate(at(i0-1), at(i0), at(i0+1), at(i0+2), frac)
}
