package gan_inv

import (
	"fmt"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NoiseSampler Seeded source of noise tensors
type NoiseSampler struct {
	gaussian *rng.GaussianGenerator
	uniform  *rng.UniformGenerator
}

// NewNoiseSampler Returns sampler. Same seed gives same sequence of tensors
func NewNoiseSampler(seed int64) *NoiseSampler {
	return &NoiseSampler{
		gaussian: rng.NewGaussianGenerator(seed),
		uniform:  rng.NewUniformGenerator(seed + 1),
	}
}

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values N(0, std^2)
//
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func (s *NoiseSampler) NormRandDense(batchSize, n int, std float64) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = s.gaussian.Gaussian(0, std)
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// UniformRandDense Return reference to tensor.Dense filled with pseudo-random float64 values in range [0.0,1.0)
//
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func (s *NoiseSampler) UniformRandDense(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = s.uniform.Float64Range(0, 1)
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// BatchStream Infinite source of training minibatches: images of shape (batchSize, 784) and their labels
type BatchStream interface {
	Next() (*tensor.Dense, []int)
}

// SelectOnePerClass Looks through minibatches of stream for the first one containing every label of [0; classes)
// and returns images of first occurrence of each label ordered by label.
//
// maxBatches - how many minibatches to look through before giving up
//
func SelectOnePerClass(stream BatchStream, classes, maxBatches int) (*tensor.Dense, error) {
	for b := 0; b < maxBatches; b++ {
		images, labels := stream.Next()
		indices := make([]int, 0, classes)
		for label := 0; label < classes; label++ {
			idx := findIdxInts(label, labels)
			if idx == -1 {
				break
			}
			indices = append(indices, idx)
		}
		if len(indices) != classes {
			continue
		}
		features := images.Shape()[1]
		src := images.Data().([]float64)
		data := make([]float64, 0, classes*features)
		for _, idx := range indices {
			data = append(data, src[idx*features:(idx+1)*features]...)
		}
		return tensor.New(tensor.WithShape(classes, features), tensor.WithBacking(data)), nil
	}
	return nil, fmt.Errorf("There is no minibatch with all of %d labels among first %d minibatches", classes, maxBatches)
}

func findIdxInts(v int, slice []int) int {
	for i, item := range slice {
		if item == v {
			return i
		}
	}
	return -1
}

// ClipValues Clamps values of provided nodes in place
func ClipValues(nodes gorgonia.Nodes, min, max float64) error {
	for _, n := range nodes {
		t, ok := n.Value().(tensor.Tensor)
		if !ok {
			return fmt.Errorf("Value of node '%s' is not a tensor", n.Name())
		}
		if _, err := tensor.Clamp(t, min, max, tensor.UseUnsafe()); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't clip values of node '%s'", n.Name()))
		}
	}
	return nil
}

// ValueOf Extracts float64 out of scalar value
func ValueOf(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("Value has not been computed yet")
	}
	switch x := v.Data().(type) {
	case float64:
		return x, nil
	case []float64:
		if len(x) != 1 {
			return 0, fmt.Errorf("Expected scalar value, but got %d elements", len(x))
		}
		return x[0], nil
	default:
		return 0, fmt.Errorf("Value type %T is not handled", x)
	}
}
