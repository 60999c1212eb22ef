package gan_inv

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestGradientPenaltyLinearCritic(t *testing.T) {
	// D(x) = 3*x[0]: gradient is (3, 0) everywhere, so gradient norm penalty is (3-1)^2 = 4 for any sample
	tests := []struct {
		name     string
		fake     []float64
		expected float64
	}{
		// directions (1, 0) and (1, 0): slope equals gradient norm
		{"parallel", []float64{1, 0, 2, 0}, 4},
		// directions (1, 0) and (0, 1): slopes are 3 and 0
		{"orthogonal", []float64{1, 0, 0, 2}, ((3-1)*(3-1) + (0-1)*(0-1)) / 2.0},
	}
	for _, tt := range tests {
		g := gorgonia.NewGraph()
		matrix := func(name string, rows, cols int, values []float64) *gorgonia.Node {
			return gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(rows, cols), gorgonia.WithName(name),
				gorgonia.WithValue(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(values))))
		}
		real := matrix("real", 2, 2, []float64{0, 0, 0, 0})
		fake := matrix("fake", 2, 2, tt.fake)
		alpha := matrix("alpha", 2, 1, []float64{0.3, 0.7})
		weights := matrix("w", 2, 1, []float64{3, 0})

		critic := func(x *gorgonia.Node) (*gorgonia.Node, error) {
			scores, err := gorgonia.Mul(x, weights)
			if err != nil {
				return nil, err
			}
			return gorgonia.Reshape(scores, tensor.Shape{2})
		}
		penalty, err := GradientPenalty(critic, real, fake, alpha, DefaultSlopeStep)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		var penaltyVal gorgonia.Value
		gorgonia.Read(penalty, &penaltyVal)
		runGraph(t, g)
		got, err := ValueOf(penaltyVal)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if math.Abs(got-tt.expected) > 1e-6 {
			t.Errorf("%s: expected %f, but got %f", tt.name, tt.expected, got)
		}
	}
}
