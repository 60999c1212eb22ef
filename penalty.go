package gan_inv

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DefaultSlopeStep Half-width of central difference used by GradientPenalty
const DefaultSlopeStep = 1e-2

// CriticFunc Maps (batchSize, 784) images to (batchSize) scores
type CriticFunc func(input *gorgonia.Node) (*gorgonia.Node, error)

// GradientPenalty Returns mean((|s| - 1)^2) where s is slope of critic at points
// interpolated between real and fake samples: x = real + alpha*(fake-real).
//
// Slope is taken along unit direction u from real to fake sample and evaluated by central difference
// s = (D(x + h*u) - D(x - h*u)) / 2h, so the penalty is built from first-order ops only
// and gradients w.r.t. critic parameters are exact.
//
// Note: s = <grad_x D(x), u> is directional derivative, not the full norm |grad_x D(x)| of WGAN-GP.
// |s| <= |grad_x D(x)|, with equality only when gradient is parallel to (fake - real). E.g. for D(x) = 3*x0
// and u = e1 penalty is (0-1)^2 while gradient norm penalty is (3-1)^2.
// Full norm needs second order derivatives of convolutions, which gorgonia does not provide (col2im has no SymDiff).
//
// real, fake - nodes of shape (batchSize, features)
// alpha - node of shape (batchSize, 1) with values in [0, 1)
// step - h
//
func GradientPenalty(critic CriticFunc, real, fake, alpha *gorgonia.Node, step float64) (*gorgonia.Node, error) {
	if step <= 0 {
		step = DefaultSlopeStep
	}
	batchSize := real.Shape()[0]

	differences, err := gorgonia.Sub(fake, real)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (fake-real)")
	}
	scaled, err := gorgonia.BroadcastHadamardProd(differences, alpha, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do alpha*(fake-real)")
	}
	interpolates, err := gorgonia.Add(real, scaled)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do real+alpha*(fake-real)")
	}

	sqr, err := gorgonia.Square(differences)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	sqrSum, err := gorgonia.Sum(sqr, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sum along features")
	}
	sqrSum, err = gorgonia.Add(sqrSum, gorgonia.NewConstant(1e-12))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+eps)")
	}
	norm, err := gorgonia.Sqrt(sqrSum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(x)")
	}
	norm, err = gorgonia.Reshape(norm, tensor.Shape{batchSize, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape norm")
	}
	direction, err := gorgonia.BroadcastHadamardDiv(differences, norm, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't normalize direction")
	}
	shift, err := gorgonia.Mul(direction, gorgonia.NewConstant(step))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do h*u")
	}

	forward, err := gorgonia.Add(interpolates, shift)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do x+h*u")
	}
	backward, err := gorgonia.Sub(interpolates, shift)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do x-h*u")
	}
	scoreForward, err := critic(forward)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate critic at x+h*u")
	}
	scoreBackward, err := critic(backward)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate critic at x-h*u")
	}
	delta, err := gorgonia.Sub(scoreForward, scoreBackward)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do D(x+h*u)-D(x-h*u)")
	}
	slopes, err := gorgonia.Div(delta, gorgonia.NewConstant(2*step))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x/2h)")
	}
	slopes, err = gorgonia.Abs(slopes)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	deviation, err := gorgonia.Sub(slopes, gorgonia.NewConstant(1.0))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-1)")
	}
	penalty, err := gorgonia.Square(deviation)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return gorgonia.Mean(penalty)
}
