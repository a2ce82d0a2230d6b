// SPDX-License-Identifier: EPL-2.0

// Package dsp holds small, allocation-free signal-processing primitives
// shared by the engine package: sub-sample interpolation and channel
// summation. Nothing here touches I/O or owns long-lived buffers — callers
// supply destination slices and dsp fills them.
package dsp
