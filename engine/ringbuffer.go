package engine

// RingBuffer is a fixed-capacity circular buffer of mono float32 samples.
// It never blocks and never allocates after construction: Write always
// succeeds, overwriting the oldest sample once full, and the Read*
// methods fill a caller-supplied destination slice.
type RingBuffer struct {
	buf          []float32
	writePos     int
	totalWritten int64
}

// NewRingBuffer allocates a ring buffer with room for capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Capacity returns the buffer's fixed size in samples.
func (r *RingBuffer) Capacity() int { return len(r.buf) }

// TotalWritten returns the number of samples ever written.
func (r *RingBuffer) TotalWritten() int64 { return r.totalWritten }

// Available returns how many valid samples can currently be read back.
func (r *RingBuffer) Available() int64 {
	cap64 := int64(len(r.buf))
	if r.totalWritten < cap64 {
		return r.totalWritten
	}
	return cap64
}

// Write appends samples, wrapping at capacity. If samples is longer than
// the buffer, only its tail of length Capacity is retained.
func (r *RingBuffer) Write(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}

	cap := len(r.buf)
	if n >= cap {
		copy(r.buf, samples[n-cap:])
		r.writePos = 0
	} else {
		spaceToEnd := cap - r.writePos
		if n <= spaceToEnd {
			copy(r.buf[r.writePos:], samples)
		} else {
			copy(r.buf[r.writePos:], samples[:spaceToEnd])
			copy(r.buf, samples[spaceToEnd:])
		}
		r.writePos = (r.writePos + n) % cap
	}

	r.totalWritten += int64(n)
}

// WriteSample appends a single sample, wrapping at capacity. Equivalent
// to Write([]float32{sample}) but without the slice allocation, for use
// on the per-sample audio-thread path.
func (r *RingBuffer) WriteSample(sample float32) {
	r.buf[r.writePos] = sample
	r.writePos++
	if r.writePos == len(r.buf) {
		r.writePos = 0
	}
	r.totalWritten++
}

// ReadMostRecent fills dest with the most recently written len(dest)
// samples, zero-filling the head if fewer samples have been written.
func (r *RingBuffer) ReadMostRecent(dest []float32) {
	r.ReadFromPast(dest, int64(len(dest)))
}

// ReadFromPast fills dest with len(dest) samples starting samplesAgo
// samples before the write cursor (samplesAgo=1 starts at the most
// recent sample; samplesAgo=0 reads nothing and zero-fills dest). If
// samplesAgo exceeds Available, it is clamped; the leading portion of
// dest that has no backing data is zero-filled.
func (r *RingBuffer) ReadFromPast(dest []float32, samplesAgo int64) {
	n := len(dest)
	if n == 0 {
		return
	}

	cap64 := int64(len(r.buf))
	avail := r.Available()
	if samplesAgo > avail {
		samplesAgo = avail
	}

	want := int64(n)
	if want > samplesAgo {
		zeroCount := want - samplesAgo
		clear(dest[:zeroCount])
		dest = dest[zeroCount:]
		want = samplesAgo
	}
	if want == 0 {
		return
	}

	readStart := (int64(r.writePos) - samplesAgo%cap64 + cap64*2) % cap64
	cap := len(r.buf)
	start := int(readStart)
	spaceToEnd := cap - start
	if int(want) <= spaceToEnd {
		copy(dest, r.buf[start:start+int(want)])
	} else {
		copy(dest, r.buf[start:])
		copy(dest[spaceToEnd:], r.buf[:int(want)-spaceToEnd])
	}
}

// Capture returns a freshly allocated copy of the most recent n samples.
// Unlike the other read paths this does allocate, so it is not for the
// per-sample hot path. Engine capture fulfillment does not use it; it
// reads through ReadFromPast.
func (r *RingBuffer) Capture(n int) []float32 {
	out := make([]float32, n)
	r.ReadMostRecent(out)
	return out
}

// Clear zeroes the buffer and resets the write cursor and total.
func (r *RingBuffer) Clear() {
	clear(r.buf)
	r.writePos = 0
	r.totalWritten = 0
}
