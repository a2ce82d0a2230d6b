package engine

// blockSize is the granularity of the activity-detection peak tracker.
// Per-sample full-window scans would be too expensive; tracking a peak
// per block and recomputing the window max only on block completion
// gives O(1) amortized "is this channel live" queries.
const blockSize = 64

// InputChannel owns one input's rolling history and live-activity
// detection. The activity window is divided into fixed-size blocks, each
// storing its peak absolute sample; the channel is "live" when the
// window's peak exceeds a configurable threshold.
type InputChannel struct {
	ring *RingBuffer

	blockPeaks       []float32
	blockWritePos    int
	currentBlockPeak float32
	sampleInBlock    int
	cachedPeak       float32
}

// NewInputChannel creates a channel with a ring buffer of ringCapacity
// samples and an activity window of activityWindowSamples samples.
func NewInputChannel(ringCapacity, activityWindowSamples int) *InputChannel {
	numBlocks := activityWindowSamples / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return &InputChannel{
		ring:       NewRingBuffer(ringCapacity),
		blockPeaks: make([]float32, numBlocks),
	}
}

// RingBuffer exposes the channel's history for capture fulfillment.
func (c *InputChannel) RingBuffer() *RingBuffer { return c.ring }

// WriteSample writes one sample into the ring buffer and updates the
// peak tracker.
func (c *InputChannel) WriteSample(sample float32) {
	c.ring.WriteSample(sample)

	abs := sample
	if abs < 0 {
		abs = -abs
	}
	if abs > c.currentBlockPeak {
		c.currentBlockPeak = abs
	}

	c.sampleInBlock++
	if c.sampleInBlock >= blockSize {
		c.blockPeaks[c.blockWritePos] = c.currentBlockPeak
		c.blockWritePos = (c.blockWritePos + 1) % len(c.blockPeaks)

		var peak float32
		for _, p := range c.blockPeaks {
			if p > peak {
				peak = p
			}
		}
		c.cachedPeak = peak

		c.currentBlockPeak = 0
		c.sampleInBlock = 0
	}
}

// PeakLevel returns the current peak over the activity window.
func (c *InputChannel) PeakLevel() float32 {
	if c.currentBlockPeak > c.cachedPeak {
		return c.currentBlockPeak
	}
	return c.cachedPeak
}

// IsLive reports whether the channel's peak exceeds threshold. A
// threshold of 0 or below disables detection: the channel is always
// live.
func (c *InputChannel) IsLive(threshold float32) bool {
	if threshold <= 0 {
		return true
	}
	return c.PeakLevel() > threshold
}
