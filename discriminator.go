package gan_inv

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// InvertorDropout Drop probability of invertor hidden layer
const InvertorDropout = 0.5

// DiscriminatorNet Abstraction for discriminator part of GAN with auxiliary invertor head.
//
// trunk - convolutional feature extractor shared by both heads
// critic - linear head producing scalar realism score for every sample
// invertor - head estimating latent code of image
//
type DiscriminatorNet struct {
	trunk    *Network
	critic   *Network
	invertor *Network
}

// Discriminator Constructor for DiscriminatorNet
func Discriminator(trunk, critic, invertor []*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{
		trunk:    &Network{Name: "discriminator", Layers: trunk},
		critic:   &Network{Name: "discriminator_output", Layers: critic},
		invertor: &Network{Name: "invertor", Layers: invertor},
	}
}

// DefineDiscriminator Builds discriminator and invertor
//
// input(784) => 1x28x28 => conv(dim, s2) => lrelu => 14x14 => conv(2*dim, s2) => [bn] => lrelu => 7x7 =>
// => conv(4*dim, s2) => [bn] => lrelu => 4x4 => flatten(4*dim*4*4)
// critic: linear(1)
// invertor: linear(4*dim*4) => lrelu => dropout(0.5) => linear(noise)
//
func DefineDiscriminator(g *gorgonia.ExprGraph, arch Architecture) *DiscriminatorNet {
	dim := arch.Dim
	leaky := LeakyReLU(DefaultLeakyBeta)
	features := 4 * dim * 4 * 4

	trunk := []*Layer{{
		Type:        LayerReshape,
		ReshapeDims: []int{1, ImageHeight, ImageWidth},
	}}
	conv1 := convLayer(g, "Discriminator.Input", 1, dim, 2)
	conv1.Activation = leaky
	trunk = append(trunk, conv1)
	trunk = append(trunk, withNorm(g, arch, convLayer(g, "Discriminator.2", dim, 2*dim, 2), leaky, "Discriminator.BN2", tensor.Shape{1, 2 * dim, 1, 1}, []int{0, 2, 3})...)
	trunk = append(trunk, withNorm(g, arch, convLayer(g, "Discriminator.3", 2*dim, 4*dim, 2), leaky, "Discriminator.BN3", tensor.Shape{1, 4 * dim, 1, 1}, []int{0, 2, 3})...)
	trunk = append(trunk, &Layer{Type: LayerFlatten})

	critic := []*Layer{
		linearLayer(g, "Discriminator.Output", features, 1, gorgonia.GlorotU(1.0)),
		{Type: LayerReshape},
	}

	hidden := linearLayer(g, "Invertor.4", features, 4*dim*4, gorgonia.GlorotU(1.0))
	hidden.Activation = leaky
	invertor := []*Layer{
		hidden,
		{Type: LayerDropout, Probability: InvertorDropout},
		linearLayer(g, "Invertor.Output", 4*dim*4, arch.NoiseDim, gorgonia.GlorotU(1.0)),
	}
	return Discriminator(trunk, critic, invertor)
}

// Learnables Returns learnables nodes of trunk and critic head
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	return append(net.trunk.Learnables(), net.critic.Learnables()...)
}

// InvertorLearnables Returns learnables nodes of invertor head
func (net *DiscriminatorNet) InvertorLearnables() gorgonia.Nodes {
	return net.invertor.Learnables()
}

// Features Feedforwards input through shared trunk
func (net *DiscriminatorNet) Features(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	out, err := net.trunk.Fwd(input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return out, nil
}

// Critic Returns node with realism score of shape (batchSize)
func (net *DiscriminatorNet) Critic(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	features, err := net.Features(input, batchSize)
	if err != nil {
		return nil, err
	}
	return net.criticHead(features, batchSize)
}

// Invert Returns node with recovered noise of shape (batchSize, noise dimension)
func (net *DiscriminatorNet) Invert(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	features, err := net.Features(input, batchSize)
	if err != nil {
		return nil, err
	}
	return net.invertorHead(features, batchSize)
}

// Fwd Initializates feedforward for provided input through both heads sharing one trunk pass
//
// input - Input node, shape is (batchSize, 784)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *DiscriminatorNet) Fwd(input *gorgonia.Node, batchSize int) (score, noise *gorgonia.Node, err error) {
	features, err := net.Features(input, batchSize)
	if err != nil {
		return nil, nil, err
	}
	score, err = net.criticHead(features, batchSize)
	if err != nil {
		return nil, nil, err
	}
	noise, err = net.invertorHead(features, batchSize)
	if err != nil {
		return nil, nil, err
	}
	return score, noise, nil
}

func (net *DiscriminatorNet) criticHead(features *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	out, err := net.critic.Fwd(features, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator, critic head]")
	}
	return out, nil
}

func (net *DiscriminatorNet) invertorHead(features *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	out, err := net.invertor.Fwd(features, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Invertor]")
	}
	return out, nil
}

// Share Returns copy of discriminator on provided graph. See ref. (*Network).Share
func (net *DiscriminatorNet) Share(g *gorgonia.ExprGraph, suffix string, inference bool) (*DiscriminatorNet, error) {
	trunk, err := net.trunk.Share(g, suffix, inference)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't share trunk")
	}
	critic, err := net.critic.Share(g, suffix, inference)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't share critic head")
	}
	invertor, err := net.invertor.Share(g, suffix, inference)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator] Can't share invertor head")
	}
	return &DiscriminatorNet{trunk: trunk, critic: critic, invertor: invertor}, nil
}
