// SPDX-License-Identifier: EPL-2.0

// Package enginetest generates synthetic per-sample streams for feeding
// engine.Engine.ProcessBlock in tests. The engine has no Source
// abstraction to satisfy (ProcessBlock takes raw []float32 input
// channels directly), so these helpers return plain slices instead of a
// stateful reader.
package enginetest

import "math"

// Silence returns n samples of silence.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// Constant returns n samples all equal to value.
func Constant(n int, value float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// Ramp returns n samples counting up from start, one per sample.
func Ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

// Sine returns n samples of a sine wave at frequency Hz, sampled at
// sampleRate.
func Sine(sampleRate, frequency float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = float32(math.Sin(2 * math.Pi * frequency * t))
	}
	return out
}

// Channels packs one or more mono streams into the [][]float32 shape
// ProcessBlock expects for its inputs parameter. Shorter streams are
// zero-padded to the length of the longest one.
func Channels(streams ...[]float32) [][]float32 {
	n := 0
	for _, s := range streams {
		if len(s) > n {
			n = len(s)
		}
	}
	out := make([][]float32, len(streams))
	for i, s := range streams {
		padded := make([]float32, n)
		copy(padded, s)
		out[i] = padded
	}
	return out
}
