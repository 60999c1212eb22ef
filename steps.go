package gan_inv

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// optimizationGraph Evaluation graph of one loss together with its tape machine and solver.
// Learnables are shared copies of parameter nodes, so solver updates parameters of every graph at once.
type optimizationGraph struct {
	name       string
	graph      *gorgonia.ExprGraph
	learnables gorgonia.Nodes
	vm         gorgonia.VM
	solver     gorgonia.Solver
	costVal    gorgonia.Value
}

func (o *optimizationGraph) compile(cost *gorgonia.Node, learnables gorgonia.Nodes, solver gorgonia.Solver) error {
	gorgonia.WithName(o.name + "_cost")(cost)
	gorgonia.Read(cost, &o.costVal)
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't define gradients for %s", o.name))
	}
	o.learnables = learnables
	o.solver = solver
	o.vm = gorgonia.NewTapeMachine(o.graph, gorgonia.BindDualValues(learnables...))
	return nil
}

// run Evaluates graph. If update is true then solver step is made for learnables
func (o *optimizationGraph) run(update bool) error {
	defer o.vm.Reset()
	if err := o.vm.RunAll(); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't run VM [%s]", o.name))
	}
	if !update {
		return nil
	}
	if err := o.solver.Step(gorgonia.NodesToValueGrads(o.learnables)); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't make solver step [%s]", o.name))
	}
	return nil
}

func (o *optimizationGraph) cost() (float64, error) {
	v, err := ValueOf(o.costVal)
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("Can't read cost [%s]", o.name))
	}
	return v, nil
}

func (o *optimizationGraph) Close() error {
	if o.vm == nil {
		return nil
	}
	return o.vm.Close()
}

// criticStep Updates discriminator trunk and critic head
type criticStep struct {
	optimizationGraph
	regime    Regime
	batchSize int
	noise     *NoiseSampler

	realInput  *gorgonia.Node
	noiseInput *gorgonia.Node
	alphaInput *gorgonia.Node

	criticVal  gorgonia.Value
	penaltyVal gorgonia.Value
}

func newCriticStep(regime Regime, batchSize, noiseDim int, gen *GeneratorNet, dis *DiscriminatorNet, noise *NoiseSampler) (*criticStep, error) {
	s := &criticStep{
		optimizationGraph: optimizationGraph{name: "discriminator", graph: gorgonia.NewGraph()},
		regime:            regime,
		batchSize:         batchSize,
		noise:             noise,
	}
	g := s.graph
	genShared, err := gen.Share(g, "_critic", false)
	if err != nil {
		return nil, err
	}
	disShared, err := dis.Share(g, "_critic", false)
	if err != nil {
		return nil, err
	}
	s.realInput = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, OutputDim), gorgonia.WithName("real_data"))
	s.noiseInput = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, noiseDim), gorgonia.WithName("input_noise"))

	fake, err := genShared.Fwd(s.noiseInput, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward noise [discriminator step]")
	}
	disReal, err := disShared.Critic(s.realInput, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward real data [discriminator step]")
	}
	disFake, err := disShared.Critic(fake, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward fake data [discriminator step]")
	}
	criticCost, err := regime.CriticLoss(disReal, disFake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator loss")
	}
	gorgonia.Read(criticCost, &s.criticVal)

	total := criticCost
	if regime.GradientPenalty {
		s.alphaInput = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, 1), gorgonia.WithName("alpha"))
		critic := func(x *gorgonia.Node) (*gorgonia.Node, error) {
			return disShared.Critic(x, batchSize)
		}
		penalty, err := GradientPenalty(critic, s.realInput, fake, s.alphaInput, DefaultSlopeStep)
		if err != nil {
			return nil, errors.Wrap(err, "Can't define gradient penalty")
		}
		gorgonia.Read(penalty, &s.penaltyVal)
		weighted, err := gorgonia.Mul(penalty, gorgonia.NewConstant(regime.Lambda))
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (lambda*gp)")
		}
		total, err = gorgonia.Add(criticCost, weighted)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (cost+lambda*gp)")
		}
	}
	if err := s.compile(total, disShared.Learnables(), regime.NewSolver()); err != nil {
		return nil, err
	}
	return s, nil
}

// criticStats Costs of single critic evaluation. Total is the minimized value: Cost plus weighted Penalty
type criticStats struct {
	Cost    float64
	Penalty float64
	Total   float64
}

func (s *criticStep) feed(real, noise *tensor.Dense) error {
	if err := gorgonia.Let(s.realInput, real); err != nil {
		return errors.Wrap(err, "Can't init real data")
	}
	if err := gorgonia.Let(s.noiseInput, noise); err != nil {
		return errors.Wrap(err, "Can't init noise")
	}
	if s.alphaInput != nil {
		if err := gorgonia.Let(s.alphaInput, s.noise.UniformRandDense(s.batchSize, 1)); err != nil {
			return errors.Wrap(err, "Can't init interpolation coefficients")
		}
	}
	return nil
}

// Step Makes one update of discriminator. Parameters are clipped afterwards if regime requires it
func (s *criticStep) Step(real, noise *tensor.Dense) (criticStats, error) {
	return s.evaluate(real, noise, true)
}

// Evaluate Computes costs without updating parameters
func (s *criticStep) Evaluate(real, noise *tensor.Dense) (criticStats, error) {
	return s.evaluate(real, noise, false)
}

func (s *criticStep) evaluate(real, noise *tensor.Dense, update bool) (criticStats, error) {
	stats := criticStats{}
	if err := s.feed(real, noise); err != nil {
		return stats, err
	}
	if err := s.run(update); err != nil {
		return stats, err
	}
	if update && s.regime.ClipWeights {
		if err := ClipValues(s.learnables, s.regime.ClipMin, s.regime.ClipMax); err != nil {
			return stats, errors.Wrap(err, "Can't clip discriminator weights")
		}
	}
	var err error
	stats.Total, err = s.cost()
	if err != nil {
		return stats, err
	}
	stats.Cost, err = ValueOf(s.criticVal)
	if err != nil {
		return stats, errors.Wrap(err, "Can't read discriminator cost")
	}
	if s.alphaInput != nil {
		stats.Penalty, err = ValueOf(s.penaltyVal)
		if err != nil {
			return stats, errors.Wrap(err, "Can't read gradient penalty")
		}
	}
	return stats, nil
}

// noiseStep Updates networks by loss which depends on noise only (generator and invertor)
type noiseStep struct {
	optimizationGraph
	noiseInput *gorgonia.Node
}

func newGeneratorStep(regime Regime, batchSize, noiseDim int, gen *GeneratorNet, dis *DiscriminatorNet) (*noiseStep, error) {
	s := &noiseStep{optimizationGraph: optimizationGraph{name: "generator", graph: gorgonia.NewGraph()}}
	g := s.graph
	genShared, err := gen.Share(g, "_generator", false)
	if err != nil {
		return nil, err
	}
	disShared, err := dis.Share(g, "_generator", false)
	if err != nil {
		return nil, err
	}
	s.noiseInput = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, noiseDim), gorgonia.WithName("input_noise"))
	fake, err := genShared.Fwd(s.noiseInput, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward noise [generator step]")
	}
	disFake, err := disShared.Critic(fake, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward fake data [generator step]")
	}
	cost, err := regime.GeneratorLoss(disFake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator loss")
	}
	if err := s.compile(cost, genShared.Learnables(), regime.NewSolver()); err != nil {
		return nil, err
	}
	return s, nil
}

func newInvertorStep(regime Regime, batchSize, noiseDim int, gen *GeneratorNet, dis *DiscriminatorNet) (*noiseStep, error) {
	s := &noiseStep{optimizationGraph: optimizationGraph{name: "invertor", graph: gorgonia.NewGraph()}}
	g := s.graph
	genShared, err := gen.Share(g, "_invertor", false)
	if err != nil {
		return nil, err
	}
	disShared, err := dis.Share(g, "_invertor", false)
	if err != nil {
		return nil, err
	}
	s.noiseInput = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, noiseDim), gorgonia.WithName("input_noise"))
	fake, err := genShared.Fwd(s.noiseInput, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward noise [invertor step]")
	}
	recovered, err := disShared.Invert(fake, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward fake data [invertor step]")
	}
	cost, err := MSELoss(s.noiseInput, recovered)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define invertor loss")
	}
	if err := s.compile(cost, disShared.InvertorLearnables(), regime.NewSolver()); err != nil {
		return nil, err
	}
	return s, nil
}

// Step Makes one update and returns cost evaluated before the update
func (s *noiseStep) Step(noise *tensor.Dense) (float64, error) {
	if err := gorgonia.Let(s.noiseInput, noise); err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("Can't init noise [%s]", s.name))
	}
	if err := s.run(true); err != nil {
		return 0, err
	}
	return s.cost()
}
