package engine

import "testing"

func TestMetronomeClickInactiveIsSilent(t *testing.T) {
	t.Parallel()

	c := NewMetronomeClick(48000)
	if got := c.NextSample(); got != 0 {
		t.Fatalf("NextSample() before Trigger = %v, want 0", got)
	}
}

func TestMetronomeClickTriggerProducesSound(t *testing.T) {
	t.Parallel()

	c := NewMetronomeClick(48000)
	c.Trigger(true)

	var peak float32
	for i := 0; i < 1600; i++ { // more than the ~30ms click duration at 48kHz
		s := c.NextSample()
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		t.Fatalf("click produced no nonzero samples")
	}
}

func TestMetronomeClickDecaysToInactive(t *testing.T) {
	t.Parallel()

	c := NewMetronomeClick(48000)
	c.Trigger(false)
	n := int(clickDuration*48000) + 10
	for i := 0; i < n; i++ {
		c.NextSample()
	}
	if got := c.NextSample(); got != 0 {
		t.Fatalf("NextSample() after click duration elapsed = %v, want 0", got)
	}
}

func TestMetronomeClickDisabledIgnoresTrigger(t *testing.T) {
	t.Parallel()

	c := NewMetronomeClick(48000)
	c.SetEnabled(false)
	c.Trigger(true)
	if got := c.NextSample(); got != 0 {
		t.Fatalf("NextSample() after Trigger while disabled = %v, want 0", got)
	}
}

func TestMetronomeClickDownbeatLouderThanOffbeat(t *testing.T) {
	t.Parallel()

	var downPeak, offPeak float32

	down := NewMetronomeClick(48000)
	down.Trigger(true)
	for i := 0; i < 20; i++ {
		if s := down.NextSample(); s > downPeak {
			downPeak = s
		} else if -s > downPeak {
			downPeak = -s
		}
	}

	off := NewMetronomeClick(48000)
	off.Trigger(false)
	for i := 0; i < 20; i++ {
		if s := off.NextSample(); s > offPeak {
			offPeak = s
		} else if -s > offPeak {
			offPeak = -s
		}
	}

	if downPeak == 0 || offPeak == 0 {
		t.Fatalf("expected nonzero peaks, got down=%v off=%v", downPeak, offPeak)
	}
	if downPeak <= offPeak {
		t.Fatalf("downbeat peak %v not louder than offbeat peak %v", downPeak, offPeak)
	}
}
