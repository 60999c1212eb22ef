package gan_inv

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

func reduce(a *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(a)
	case LossReductionMean:
		return gorgonia.Mean(a)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction)
}

// SigmoidCrossEntropyLoss Cross entropy between sigmoid(logits) and constant label z.
// Evaluated as max(x, 0) - x*z + log(1 + exp(-|x|)) which does not overflow for large |x|.
// Default reduction is 'mean'
func SigmoidCrossEntropyLoss(logits *gorgonia.Node, label float64, reduction ...LossReduction) (*gorgonia.Node, error) {
	relu, err := gorgonia.Rectify(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(x, 0)")
	}
	abs, err := gorgonia.Abs(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	negAbs, err := gorgonia.Neg(abs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	exp, err := gorgonia.Exp(negAbs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do exp(x)")
	}
	log1p, err := gorgonia.Log1p(exp)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1+x)")
	}
	loss, err := gorgonia.Add(relu, log1p)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	if label != 0 {
		scaled, err := gorgonia.Mul(logits, gorgonia.NewConstant(label))
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x*z)")
		}
		loss, err = gorgonia.Sub(loss, scaled)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x-y)")
		}
	}
	return reduce(loss, reduction)
}

// WassersteinCriticLoss Returns mean(fake) - mean(real)
func WassersteinCriticLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	meanReal, err := gorgonia.Mean(real)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(real)")
	}
	meanFake, err := gorgonia.Mean(fake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	return gorgonia.Sub(meanFake, meanReal)
}

// WassersteinGeneratorLoss Returns -mean(fake)
func WassersteinGeneratorLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	meanFake, err := gorgonia.Mean(fake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	return gorgonia.Neg(meanFake)
}

// DCGANCriticLoss Returns (CE(fake, 0) + CE(real, 1)) / 2
func DCGANCriticLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	fakeLoss, err := SigmoidCrossEntropyLoss(fake, 0)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate cross entropy for fake samples")
	}
	realLoss, err := SigmoidCrossEntropyLoss(real, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate cross entropy for real samples")
	}
	sum, err := gorgonia.Add(fakeLoss, realLoss)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	return gorgonia.Div(sum, gorgonia.NewConstant(2.0))
}

// DCGANGeneratorLoss Returns CE(fake, 1)
func DCGANGeneratorLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	return SigmoidCrossEntropyLoss(fake, 1)
}
