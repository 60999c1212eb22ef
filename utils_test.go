package gan_inv

import (
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type fixedStream struct {
	labels [][]int
	pos    int
}

func (s *fixedStream) Next() (*tensor.Dense, []int) {
	labels := s.labels[s.pos%len(s.labels)]
	s.pos++
	data := make([]float64, len(labels))
	for i, l := range labels {
		data[i] = float64(l)
	}
	return tensor.New(tensor.WithShape(len(labels), 1), tensor.WithBacking(data)), labels
}

func TestSelectOnePerClass(t *testing.T) {
	stream := &fixedStream{labels: [][]int{{0, 0, 1}, {2, 1, 0, 1}}}
	selected, err := SelectOnePerClass(stream, 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{0, 1, 2}
	got := selected.Data().([]float64)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Row %d: expected %f, but got %f", i, expected[i], got[i])
		}
	}
	if _, err := SelectOnePerClass(&fixedStream{labels: [][]int{{0, 1}}}, 3, 5); err == nil {
		t.Error("Stream without all classes must fail")
	}
}

func TestNoiseSampler(t *testing.T) {
	a := NewNoiseSampler(7).NormRandDense(2, 3, 1).Data().([]float64)
	b := NewNoiseSampler(7).NormRandDense(2, 3, 1).Data().([]float64)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Same seed must give same noise")
		}
	}
	for _, v := range NewNoiseSampler(7).UniformRandDense(10, 10).Data().([]float64) {
		if v < 0 || v >= 1 {
			t.Fatalf("Uniform value %f is out of [0, 1)", v)
		}
	}
}

func TestClipValues(t *testing.T) {
	g := gorgonia.NewGraph()
	n := gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(3), gorgonia.WithName("w"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{-1, 0.005, 1}))))
	if err := ClipValues(gorgonia.Nodes{n}, -0.01, 0.01); err != nil {
		t.Fatal(err)
	}
	expected := []float64{-0.01, 0.005, 0.01}
	got := n.Value().Data().([]float64)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Value #%d: expected %f, but got %f", i, expected[i], got[i])
		}
	}
}

func TestValueOf(t *testing.T) {
	if _, err := ValueOf(nil); err == nil {
		t.Error("Nil value must fail")
	}
	v, err := ValueOf(gorgonia.NewF64(2.5))
	if err != nil || v != 2.5 {
		t.Errorf("Expected 2.5, but got %f (%v)", v, err)
	}
	if _, err := ValueOf(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{1, 2}))); err == nil {
		t.Error("Vector must not be read as scalar")
	}
}
