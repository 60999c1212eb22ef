package gan_inv

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestSpatialOperatorUpsample(t *testing.T) {
	op := SpatialOperator(2, 2, 4, 4, func(i, j int) (int, int, bool) {
		return 2 * i, 2 * j, true
	})
	if op.Shape()[0] != 4 || op.Shape()[1] != 16 {
		t.Fatalf("Wrong operator shape %v", op.Shape())
	}
	data := op.Data().([]float64)
	ones := 0
	for _, v := range data {
		if v == 1 {
			ones++
		}
	}
	if ones != 4 {
		t.Errorf("Every input pixel must be mapped once, but got %d ones", ones)
	}
	// pixel (1, 1) goes to (2, 2)
	if data[3*16+2*4+2] != 1 {
		t.Errorf("Pixel (1, 1) is not mapped to (2, 2)")
	}
}

func TestSpatialOperatorCrop(t *testing.T) {
	op := SpatialOperator(3, 3, 2, 2, func(i, j int) (int, int, bool) {
		return i, j, i < 2 && j < 2
	})
	data := op.Data().([]float64)
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	if sum != 4 {
		t.Errorf("Only 2x2 pixels must be kept, but got %f", sum)
	}
}

func runGraph(t *testing.T, g *gorgonia.ExprGraph) {
	t.Helper()
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
}

func TestCropLayer(t *testing.T) {
	g := gorgonia.NewGraph()
	backing := make([]float64, 2*1*3*3)
	for i := range backing {
		backing[i] = float64(i)
	}
	input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2, 1, 3, 3), gorgonia.WithName("input"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2, 1, 3, 3), tensor.WithBacking(backing))))
	l := &Layer{Type: LayerCrop, CropHeight: 2, CropWidth: 2}
	out, err := l.Fwd(input, 2, false, "test")
	if err != nil {
		t.Fatal(err)
	}
	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)
	runGraph(t, g)
	expected := []float64{0, 1, 3, 4, 9, 10, 12, 13}
	got := outVal.Data().([]float64)
	if len(got) != len(expected) {
		t.Fatalf("Expected %d values, but got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Value #%d: expected %f, but got %f", i, expected[i], got[i])
		}
	}
}

func TestTransposedConvolutionShape(t *testing.T) {
	g := gorgonia.NewGraph()
	input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2, 3, 4, 4), gorgonia.WithName("input"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	l := transposedConvLayer(g, "deconv", 3, 2)
	out, err := l.Fwd(input, 2, false, "test")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{2, 2, 8, 8}) {
		t.Errorf("Expected shape (2, 2, 8, 8), but got %v", out.Shape())
	}
}

func TestBatchNormLayer(t *testing.T) {
	g := gorgonia.NewGraph()
	input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(4, 2), gorgonia.WithName("input"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float64{1, 10, 2, 20, 3, 30, 4, 40}))))
	arch := Architecture{Dim: 1, NoiseDim: 1, BatchNorm: true}
	layers := withNorm(g, arch, linearLayer(g, "lin", 2, 2, gorgonia.GlorotU(1.0)), NoActivation, "bn", tensor.Shape{1, 2}, []int{0})
	if len(layers) != 2 {
		t.Fatalf("Expected linear and batchnorm layers, but got %d", len(layers))
	}
	out, err := layers[1].Fwd(input, 4, false, "test")
	if err != nil {
		t.Fatal(err)
	}
	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)
	runGraph(t, g)
	got := outVal.Data().([]float64)
	for col := 0; col < 2; col++ {
		mean, sqr := 0.0, 0.0
		for row := 0; row < 4; row++ {
			mean += got[row*2+col]
			sqr += got[row*2+col] * got[row*2+col]
		}
		mean /= 4
		variance := sqr/4 - mean*mean
		if math.Abs(mean) > 1e-9 {
			t.Errorf("Column %d: mean must be zero, but got %f", col, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("Column %d: variance must be one, but got %f", col, variance)
		}
	}
}

func TestWithNormDisabled(t *testing.T) {
	g := gorgonia.NewGraph()
	arch := Architecture{Dim: 1, NoiseDim: 1}
	layers := withNorm(g, arch, linearLayer(g, "lin", 2, 2, gorgonia.GlorotU(1.0)), Rectify, "bn", tensor.Shape{1, 2}, []int{0})
	if len(layers) != 1 {
		t.Fatalf("Expected single layer, but got %d", len(layers))
	}
	if layers[0].Activation == nil {
		t.Error("Activation must stay on layer when normalization is disabled")
	}
}
