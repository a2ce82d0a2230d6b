package dsp

import "testing"

func TestSumActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		active  []bool
		want    float32
	}{
		{"mono live", []float32{0.5}, []bool{true}, 0.5},
		{"mono dead", []float32{0.5}, []bool{false}, 0.0},
		{"stereo both live", []float32{0.25, 0.75}, []bool{true, true}, 1.0},
		{"stereo one live", []float32{0.25, 0.75}, []bool{false, true}, 0.75},
		{"stereo none live", []float32{0.25, 0.75}, []bool{false, false}, 0.0},
		{"quad mixed", []float32{1, 1, 1, 1}, []bool{true, false, true, false}, 2.0},
		{"short active slice treats rest dead", []float32{1, 1, 1}, []bool{true}, 1.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := SumActive(tt.samples, tt.active)
			if got != tt.want {
				t.Errorf("SumActive(%v, %v) = %v, want %v", tt.samples, tt.active, got, tt.want)
			}
		})
	}
}
