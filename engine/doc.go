// SPDX-License-Identifier: EPL-2.0

// Package engine implements the real-time core of a continuously-recording
// audio looper: a per-sample pipeline that keeps a rolling lookback of
// every input channel, advances a sample-accurate metronome, fires
// scheduled operations on beat/bar boundaries, and mixes any number of
// independent multi-layer loops with overdub, undo/redo, reverse, variable
// speed, and tempo-following time stretch.
//
// # Real-time contract
//
// Engine.ProcessBlock is meant to be called from an audio callback. It
// never blocks on a mutex it can't try-lock and never performs I/O. The
// per-sample input, mixing and playback path does not allocate, but
// ProcessBlock does allocate when it fires some operations: a capture
// builds its loop buffer, a classic recording grows its buffer by
// append, starting an overdub makes a new layer, loading a loop creates
// its time-stretch buffers, and every status message is appended to the
// message log. Commands reach the audio thread through EnqueueCommand (a
// wait-free SPSC ring, pushed from any single control thread); channel
// peaks are published from the audio thread with a try-lock and read by
// Engine.Snapshot with a normal lock.
//
// # What this package does not do
//
// It does not bind to an audio device, a MIDI device, an OSC transport, a
// TUI, or a config file — those are external collaborators that push
// commands in and read snapshots out. This module contains no such
// wiring to an audio interface or MIDI output.
package engine
