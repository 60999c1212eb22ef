package gan_inv

import (
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input    string
		expected Mode
		fails    bool
	}{
		{"wgan", ModeWGAN, false},
		{"wgan-gp", ModeWGANGP, false},
		{" DCGAN ", ModeDCGAN, false},
		{"lsgan", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.input)
		if tt.fails {
			if err == nil {
				t.Errorf("'%s' must not be parsed", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("'%s': %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("'%s': expected %s, but got %s", tt.input, tt.expected, got)
		}
		if roundTrip, _ := ParseMode(got.String()); roundTrip != got {
			t.Errorf("String of %s can't be parsed back", got)
		}
	}
}

func TestModeSet(t *testing.T) {
	m := ModeWGAN
	if err := m.Set("dcgan"); err != nil || m != ModeDCGAN {
		t.Errorf("Expected dcgan, but got %s (%v)", m, err)
	}
	if err := m.Set("unknown"); err == nil || m != ModeDCGAN {
		t.Error("Bad value must leave mode untouched")
	}
}

func TestRegimeFor(t *testing.T) {
	tests := []struct {
		mode        Mode
		batchNorm   bool
		clip        bool
		penalty     bool
		crossEnt    bool
		criticIters int
	}{
		{ModeWGAN, true, true, false, false, 5},
		{ModeWGANGP, false, false, true, false, 5},
		{ModeDCGAN, false, false, false, true, 1},
	}
	for _, tt := range tests {
		r, err := RegimeFor(tt.mode, 5, 10)
		if err != nil {
			t.Fatal(err)
		}
		if r.BatchNorm != tt.batchNorm || r.ClipWeights != tt.clip || r.GradientPenalty != tt.penalty || r.CrossEntropy != tt.crossEnt {
			t.Errorf("%s: unexpected regime %+v", tt.mode, r)
		}
		if r.CriticIters != tt.criticIters {
			t.Errorf("%s: expected %d critic iterations, but got %d", tt.mode, tt.criticIters, r.CriticIters)
		}
		if r.NewSolver() == nil {
			t.Errorf("%s: solver is nil", tt.mode)
		}
	}
	wgan, _ := RegimeFor(ModeWGAN, 5, 10)
	if wgan.ClipMin != -0.01 || wgan.ClipMax != 0.01 {
		t.Errorf("Unexpected clipping range [%f; %f]", wgan.ClipMin, wgan.ClipMax)
	}
	if _, err := RegimeFor(Mode(42), 5, 10); err == nil {
		t.Error("Unknown mode must be rejected")
	}
}
