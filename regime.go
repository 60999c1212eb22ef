package gan_inv

import (
	"fmt"
	"strings"

	"gorgonia.org/gorgonia"
)

// Mode Loss regime of experiment
type Mode uint16

const (
	// ModeWGAN Wasserstein critic with weight clipping
	ModeWGAN = Mode(iota + 1)
	// ModeWGANGP Wasserstein critic with gradient penalty
	ModeWGANGP
	// ModeDCGAN Sigmoid cross entropy
	ModeDCGAN
)

func (m Mode) String() string {
	switch m {
	case ModeWGAN:
		return "wgan"
	case ModeWGANGP:
		return "wgan-gp"
	case ModeDCGAN:
		return "dcgan"
	default:
		return fmt.Sprintf("mode(%d)", uint16(m))
	}
}

// ParseMode Returns mode for its string representation
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wgan":
		return ModeWGAN, nil
	case "wgan-gp":
		return ModeWGANGP, nil
	case "dcgan":
		return ModeDCGAN, nil
	default:
		return 0, fmt.Errorf("mode '%s' is not handled, should be one of: wgan, wgan-gp, dcgan", s)
	}
}

// Set Implements flag.Value
func (m *Mode) Set(s string) error {
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Regime Everything that differs between loss modes
//
// BatchNorm - batch normalization in generator and discriminator trunk
// ClipWeights - clipping of discriminator parameters to [ClipMin, ClipMax] after each critic step
// GradientPenalty - penalty term added to critic loss
// CrossEntropy - sigmoid cross entropy losses instead of Wasserstein ones
// CriticIters - number of critic updates per generator update
//
type Regime struct {
	Mode            Mode
	BatchNorm       bool
	ClipWeights     bool
	ClipMin         float64
	ClipMax         float64
	GradientPenalty bool
	CrossEntropy    bool
	CriticIters     int
	Lambda          float64

	solverOpts []gorgonia.SolverOpt
	rmsProp    bool
}

// RegimeFor Returns regime for provided mode
//
// criticIters - critic iterations for Wasserstein modes (DCGAN always uses 1)
// lambda - gradient penalty coefficient
//
func RegimeFor(mode Mode, criticIters int, lambda float64) (Regime, error) {
	switch mode {
	case ModeWGAN:
		return Regime{
			Mode:        mode,
			BatchNorm:   true,
			ClipWeights: true,
			ClipMin:     -0.01,
			ClipMax:     0.01,
			CriticIters: criticIters,
			solverOpts:  []gorgonia.SolverOpt{gorgonia.WithLearnRate(5e-5), gorgonia.WithRho(0.9)},
			rmsProp:     true,
		}, nil
	case ModeWGANGP:
		return Regime{
			Mode:            mode,
			GradientPenalty: true,
			CriticIters:     criticIters,
			Lambda:          lambda,
			solverOpts:      []gorgonia.SolverOpt{gorgonia.WithLearnRate(1e-4), gorgonia.WithBeta1(0.5), gorgonia.WithBeta2(0.9)},
		}, nil
	case ModeDCGAN:
		return Regime{
			Mode:         mode,
			CrossEntropy: true,
			CriticIters:  1,
			solverOpts:   []gorgonia.SolverOpt{gorgonia.WithLearnRate(2e-4), gorgonia.WithBeta1(0.5)},
		}, nil
	default:
		return Regime{}, fmt.Errorf("mode '%s' is not handled", mode)
	}
}

// NewSolver Returns new solver instance configured for regime. Every network gets its own.
func (r Regime) NewSolver() gorgonia.Solver {
	if r.rmsProp {
		return gorgonia.NewRMSPropSolver(r.solverOpts...)
	}
	return gorgonia.NewAdamSolver(r.solverOpts...)
}

// CriticLoss Returns discriminator loss node without penalty
func (r Regime) CriticLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	if r.CrossEntropy {
		return DCGANCriticLoss(real, fake)
	}
	return WassersteinCriticLoss(real, fake)
}

// GeneratorLoss Returns generator loss node
func (r Regime) GeneratorLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	if r.CrossEntropy {
		return DCGANGeneratorLoss(fake)
	}
	return WassersteinGeneratorLoss(fake)
}
