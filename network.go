package gan_inv

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
// Inference - if true then dropout layers are skipped
// out - alias to activated output of last feedforward
//
// Same network could be applied to several inputs of one graph: every call of Fwd returns its own output node.
//
type Network struct {
	Name      string
	Layers    []*Layer
	Inference bool

	out     *gorgonia.Node
	applied int
}

// Out Returns reference to output node of the latest feedforward
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			if l.WeightNode != nil {
				learnables = append(learnables, l.WeightNode)
			}
			if l.BiasNode != nil {
				learnables = append(learnables, l.BiasNode)
			}
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *Network) Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}
	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network must have one layer atleast")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	tag := fmt.Sprintf("%s_%d", networkName, net.applied)
	net.applied++

	lastActivatedLayer := input
	for i, l := range net.Layers {
		if l == nil {
			return nil, fmt.Errorf("Network's layer #%d is nil", i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("Network's layer's #%d WeightNode is nil", i)
		}
		layerNonActivated, err := l.Fwd(lastActivatedLayer, batchSize, net.Inference, fmt.Sprintf("%s_%d", tag, i))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d (%s)] Can't feedforward input before activation", networkName, i, l.Type))
		}
		if layerNonActivated != lastActivatedLayer {
			gorgonia.WithName(fmt.Sprintf("%s_%d", tag, i))(layerNonActivated)
		}
		activation := l.Activation
		if activation == nil {
			activation = NoActivation
		}
		layerActivated, err := activation(layerNonActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of %s's layer #%d", networkName, i))
		}
		if layerActivated != layerNonActivated {
			gorgonia.WithName(fmt.Sprintf("%s_activated_%d", tag, i))(layerActivated)
		}
		lastActivatedLayer = layerActivated
	}
	net.out = lastActivatedLayer
	return lastActivatedLayer, nil
}

// Share Returns copy of network's structure on provided graph.
// Weights and biases of copy are new nodes bound to the same values, so any in-place update
// of parameters (solver step, clipping, restoring from checkpoint) is visible through both networks.
//
// g - target graph
// suffix - suffix for names of copied nodes
// inference - inference flag for copy
//
func (net *Network) Share(g *gorgonia.ExprGraph, suffix string, inference bool) (*Network, error) {
	shared := &Network{
		Name:      net.Name + suffix,
		Layers:    make([]*Layer, len(net.Layers)),
		Inference: inference,
	}
	for i, l := range net.Layers {
		if l == nil {
			return nil, fmt.Errorf("%s's layer #%d is nil", net.Name, i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("%s's layer #%d has nil weight node", net.Name, i)
		}
		copied := *l
		copied.WeightNode = shareNode(g, l.WeightNode, suffix)
		copied.BiasNode = shareNode(g, l.BiasNode, suffix)
		shared.Layers[i] = &copied
	}
	return shared, nil
}

func shareNode(g *gorgonia.ExprGraph, n *gorgonia.Node, suffix string) *gorgonia.Node {
	if n == nil {
		return nil
	}
	if n.Graph() == g {
		return n
	}
	return gorgonia.NewTensor(g, n.Dtype(), n.Dims(), gorgonia.WithShape(n.Shape()...), gorgonia.WithName(n.Name()+suffix), gorgonia.WithValue(n.Value()))
}
