package gan_inv

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	// ImageHeight Height of MNIST image
	ImageHeight = 28
	// ImageWidth Width of MNIST image
	ImageWidth = 28
	// OutputDim Number of pixels in flattened image
	OutputDim = ImageHeight * ImageWidth

	kernelSize = 5
)

// Architecture Sizes shared by generator and discriminator
//
// Dim - base number of feature maps
// NoiseDim - size of latent space
// BatchNorm - whether batch normalization layers are inserted
//
type Architecture struct {
	Dim       int
	NoiseDim  int
	BatchNorm bool
}

// GeneratorNet Abstraction for generator part of GAN
type GeneratorNet struct {
	private *Network
}

// Generator Constructor for GeneratorNet
func Generator(layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   "generator",
		Layers: layers,
	}}
}

// DefineGenerator Builds generator mapping noise to 28x28 image in [0, 1]
//
// noise => linear(4*dim*4*4) => [bn] => relu => 4x4 => deconv(2*dim) => [bn] => relu => 8x8 => crop 7x7 =>
// => deconv(dim) => [bn] => relu => 14x14 => deconv(1) => sigmoid => 28x28 => flatten
//
func DefineGenerator(g *gorgonia.ExprGraph, arch Architecture) *GeneratorNet {
	dim := arch.Dim
	layers := make([]*Layer, 0, 12)

	inputLayer := linearLayer(g, "Generator.Input", arch.NoiseDim, 4*dim*4*4, gorgonia.GlorotU(1.0))
	layers = append(layers, withNorm(g, arch, inputLayer, Rectify, "Generator.BN1", tensor.Shape{1, 4 * dim * 4 * 4}, []int{0})...)
	layers = append(layers, &Layer{
		Type:        LayerReshape,
		ReshapeDims: []int{4 * dim, 4, 4},
	})

	deconv2 := transposedConvLayer(g, "Generator.2", 4*dim, 2*dim)
	layers = append(layers, withNorm(g, arch, deconv2, Rectify, "Generator.BN2", tensor.Shape{1, 2 * dim, 1, 1}, []int{0, 2, 3})...)
	layers = append(layers, &Layer{
		Type:       LayerCrop,
		CropHeight: 7,
		CropWidth:  7,
	})

	deconv3 := transposedConvLayer(g, "Generator.3", 2*dim, dim)
	layers = append(layers, withNorm(g, arch, deconv3, Rectify, "Generator.BN3", tensor.Shape{1, dim, 1, 1}, []int{0, 2, 3})...)

	output := transposedConvLayer(g, "Generator.Output", dim, 1)
	output.Activation = Sigmoid
	layers = append(layers, output, &Layer{
		Type: LayerFlatten,
	})
	return Generator(layers...)
}

// Network Returns underlying network
func (net *GeneratorNet) Network() *Network {
	return net.private
}

// Out Returns reference to output node
func (net *GeneratorNet) Out() *gorgonia.Node {
	return net.private.Out()
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided input
//
// input - Input node, shape is (batchSize, noise dimension)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *GeneratorNet) Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	out, err := net.private.Fwd(input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return out, nil
}

// Share Returns copy of generator on provided graph. See ref. (*Network).Share
func (net *GeneratorNet) Share(g *gorgonia.ExprGraph, suffix string, inference bool) (*GeneratorNet, error) {
	shared, err := net.private.Share(g, suffix, inference)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator] Can't share network")
	}
	return &GeneratorNet{private: shared}, nil
}

func linearLayer(g *gorgonia.ExprGraph, name string, nIn, nOut int, init gorgonia.InitWFn) *Layer {
	w := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(nOut, nIn), gorgonia.WithName(name+".W"), gorgonia.WithInit(init))
	b := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, nOut), gorgonia.WithName(name+".b"), gorgonia.WithInit(gorgonia.Zeroes()))
	return &Layer{
		WeightNode: w,
		BiasNode:   b,
		Type:       LayerLinear,
		Activation: NoActivation,
	}
}

func convLayer(g *gorgonia.ExprGraph, name string, nIn, nOut int, stride int) *Layer {
	w := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(nOut, nIn, kernelSize, kernelSize), gorgonia.WithName(name+".Filters"), gorgonia.WithInit(gorgonia.HeU(1.0)))
	b := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, nOut, 1, 1), gorgonia.WithName(name+".Biases"), gorgonia.WithInit(gorgonia.Zeroes()))
	return &Layer{
		WeightNode:   w,
		BiasNode:     b,
		Type:         LayerConvolutional,
		Activation:   NoActivation,
		KernelHeight: kernelSize,
		KernelWidth:  kernelSize,
		Padding:      []int{kernelSize / 2, kernelSize / 2},
		Stride:       []int{stride, stride},
		Dilation:     []int{1, 1},
	}
}

func transposedConvLayer(g *gorgonia.ExprGraph, name string, nIn, nOut int) *Layer {
	l := convLayer(g, name, nIn, nOut, 1)
	l.Type = LayerTransposedConvolutional
	l.Upsample = 2
	return l
}

// withNorm Returns [layer, batchnorm] with activation moved to batchnorm when normalization is enabled.
// Otherwise returns [layer] activated by provided function.
func withNorm(g *gorgonia.ExprGraph, arch Architecture, l *Layer, activation ActivationFunc, name string, paramShape tensor.Shape, axes []int) []*Layer {
	if !arch.BatchNorm {
		l.Activation = activation
		return []*Layer{l}
	}
	l.Activation = NoActivation
	scale := gorgonia.NewTensor(g, gorgonia.Float64, paramShape.Dims(), gorgonia.WithShape(paramShape...), gorgonia.WithName(name+".scale"), gorgonia.WithInit(gorgonia.Ones()))
	offset := gorgonia.NewTensor(g, gorgonia.Float64, paramShape.Dims(), gorgonia.WithShape(paramShape...), gorgonia.WithName(name+".offset"), gorgonia.WithInit(gorgonia.Zeroes()))
	return []*Layer{l, {
		WeightNode: scale,
		BiasNode:   offset,
		Type:       LayerBatchNorm,
		Activation: activation,
		Axes:       axes,
	}}
}

func validateArchitecture(arch Architecture) error {
	if arch.Dim < 1 {
		return fmt.Errorf("Dim must be positive, but got %d", arch.Dim)
	}
	if arch.NoiseDim < 1 {
		return fmt.Errorf("NoiseDim must be positive, but got %d", arch.NoiseDim)
	}
	return nil
}
