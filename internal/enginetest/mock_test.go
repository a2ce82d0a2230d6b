package enginetest

import "testing"

func TestSilenceIsAllZero(t *testing.T) {
	t.Parallel()

	s := Silence(16)
	for i, v := range s {
		if v != 0 {
			t.Fatalf("sample %d = %v, want 0", i, v)
		}
	}
}

func TestConstantFillsValue(t *testing.T) {
	t.Parallel()

	s := Constant(8, 0.5)
	for i, v := range s {
		if v != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, v)
		}
	}
}

func TestRampCounts(t *testing.T) {
	t.Parallel()

	s := Ramp(10, 4)
	want := []float32{10, 11, 12, 13}
	for i := range want {
		if s[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, s[i], want[i])
		}
	}
}

func TestSineStartsAtZero(t *testing.T) {
	t.Parallel()

	s := Sine(48000, 440, 4)
	if s[0] != 0 {
		t.Fatalf("sine[0] = %v, want 0", s[0])
	}
}

func TestChannelsZeroPadsShorterStreams(t *testing.T) {
	t.Parallel()

	out := Channels(Constant(4, 1), Constant(2, 1))
	if len(out) != 2 || len(out[0]) != 4 || len(out[1]) != 4 {
		t.Fatalf("Channels() shape = %d x [%d %d], want 2 x [4 4]", len(out), len(out[0]), len(out[1]))
	}
	if out[1][2] != 0 || out[1][3] != 0 {
		t.Fatalf("short stream not zero-padded: %v", out[1])
	}
}
