package gan_inv

import (
	"fmt"
	"log"
	"math"
	"path/filepath"
	"time"

	"github.com/LdDl/gan-inv/parzen"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Data Everything trainer reads from dataset
//
// Train - infinite stream of training minibatches
// Dev - minibatches for dev discriminator cost
// Test - (n, 784) images for Parzen log-likelihood
// Fixed - (rows, 784) real images, one per digit, for perturbation grid
//
type Data struct {
	Train BatchStream
	Dev   []*tensor.Dense
	Test  *mat.Dense
	Fixed *tensor.Dense
}

// MetricsSink Accumulates named scalar values per iteration
type MetricsSink interface {
	Plot(name string, value float64)
	Tick()
	Flush() error
}

// StepStats Costs of single training iteration
type StepStats struct {
	CriticCost    float64
	Penalty       float64
	GeneratorCost float64
	InvertorCost  float64
}

// Trainer Owns parameters of both networks and every graph built upon them
type Trainer struct {
	RunID string

	cfg    Config
	regime Regime
	data   Data
	sink   MetricsSink
	logger *log.Logger

	graph *gorgonia.ExprGraph
	gen   *GeneratorNet
	dis   *DiscriminatorNet
	noise *NoiseSampler

	critic    *criticStep
	generator *noiseStep
	invertor  *noiseStep

	fixedDecoder   *Decoder
	perturbDecoder *Decoder
	batchDecoder   *Decoder
	encoder        *Encoder

	fixedNoise *tensor.Dense
	lastNoise  *tensor.Dense
	start      int
}

// NewTrainer Builds networks, training graphs and inference graphs for provided settings
func NewTrainer(cfg Config, data Data, sink MetricsSink, logger *log.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Bad settings")
	}
	if data.Train == nil {
		return nil, fmt.Errorf("Training stream is nil")
	}
	if data.Fixed != nil && data.Fixed.Shape()[0] != cfg.Rows {
		return nil, fmt.Errorf("Expected %d fixed real samples, but got %d", cfg.Rows, data.Fixed.Shape()[0])
	}
	regime, err := RegimeFor(cfg.Mode, cfg.CriticIters, cfg.Lambda)
	if err != nil {
		return nil, err
	}
	arch := cfg.Architecture(regime.BatchNorm)
	t := &Trainer{
		RunID:  uuid.New().String(),
		cfg:    cfg,
		regime: regime,
		data:   data,
		sink:   sink,
		logger: logger,
		graph:  gorgonia.NewGraph(),
	}
	t.gen = DefineGenerator(t.graph, arch)
	t.dis = DefineDiscriminator(t.graph, arch)

	if cfg.Resume != "" {
		ckpt, err := LoadCheckpoint(cfg.Resume)
		if err != nil {
			return nil, err
		}
		if ckpt.Mode != cfg.Mode.String() {
			return nil, fmt.Errorf("Checkpoint was made in mode '%s', but current mode is '%s'", ckpt.Mode, cfg.Mode)
		}
		if err := ckpt.Restore(t.parameters()); err != nil {
			return nil, errors.Wrap(err, "Can't restore parameters")
		}
		t.RunID = ckpt.RunID
		t.start = ckpt.Iteration + 1
		logger.Printf("Restored run %s from %s, continue from iteration %d\n", t.RunID, cfg.Resume, t.start)
	}
	t.noise = NewNoiseSampler(cfg.SeedAt(t.start))

	if t.critic, err = newCriticStep(regime, cfg.BatchSize, cfg.NoiseDim, t.gen, t.dis, t.noise); err != nil {
		return nil, err
	}
	if t.generator, err = newGeneratorStep(regime, cfg.BatchSize, cfg.NoiseDim, t.gen, t.dis); err != nil {
		return nil, err
	}
	if t.invertor, err = newInvertorStep(regime, cfg.BatchSize, cfg.NoiseDim, t.gen, t.dis); err != nil {
		return nil, err
	}
	if t.fixedDecoder, err = NewDecoder(t.gen, cfg.FixedNoise, cfg.NoiseDim); err != nil {
		return nil, err
	}
	if t.perturbDecoder, err = NewDecoder(t.gen, cfg.Rows*(cfg.Rows-1), cfg.NoiseDim); err != nil {
		return nil, err
	}
	if t.batchDecoder, err = NewDecoder(t.gen, cfg.BatchSize, cfg.NoiseDim); err != nil {
		return nil, err
	}
	if t.encoder, err = NewEncoder(t.dis, cfg.Rows); err != nil {
		return nil, err
	}
	t.fixedNoise = NewNoiseSampler(cfg.Seed).NormRandDense(cfg.FixedNoise, cfg.NoiseDim, 1)
	return t, nil
}

// Regime Returns loss regime of trainer
func (t *Trainer) Regime() Regime {
	return t.regime
}

// StartIteration Returns first iteration Train will run
func (t *Trainer) StartIteration() int {
	return t.start
}

// parameters Returns every learnable node of parameter graph
func (t *Trainer) parameters() gorgonia.Nodes {
	params := t.gen.Learnables()
	params = append(params, t.dis.Learnables()...)
	return append(params, t.dis.InvertorLearnables()...)
}

// Step Makes one training iteration. Every update in iteration uses the same noise batch:
// critic is updated CriticIters times with fresh real minibatches, then generator and invertor once.
func (t *Trainer) Step() (StepStats, error) {
	stats := StepStats{}
	noise := t.noise.NormRandDense(t.cfg.BatchSize, t.cfg.NoiseDim, 1)
	t.lastNoise = noise

	costs := make([]float64, 0, t.regime.CriticIters)
	penalties := make([]float64, 0, t.regime.CriticIters)
	for i := 0; i < t.regime.CriticIters; i++ {
		real, _ := t.data.Train.Next()
		cs, err := t.critic.Step(real, noise)
		if err != nil {
			return stats, errors.Wrap(err, fmt.Sprintf("Can't make critic iteration #%d", i))
		}
		costs = append(costs, cs.Cost)
		penalties = append(penalties, cs.Penalty)
	}
	stats.CriticCost = stat.Mean(costs, nil)
	stats.Penalty = stat.Mean(penalties, nil)

	var err error
	stats.GeneratorCost, err = t.generator.Step(noise)
	if err != nil {
		return stats, err
	}
	stats.InvertorCost, err = t.invertor.Step(noise)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// Train Runs iterations from start one to Iters-1 with sampling, checkpointing and flushing of metrics
func (t *Trainer) Train() error {
	for iteration := t.start; iteration < t.cfg.Iters; iteration++ {
		startTime := time.Now()
		stats, err := t.Step()
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Iteration %d", iteration))
		}
		t.sink.Plot("train discriminator cost", stats.CriticCost)
		t.sink.Plot("train generator cost", stats.GeneratorCost)
		t.sink.Plot("train invertor cost", stats.InvertorCost)
		if t.regime.GradientPenalty {
			t.sink.Plot("train gradient penalty", stats.Penalty)
		}
		t.sink.Plot("time", time.Since(startTime).Seconds())

		if t.cfg.IsSampleIteration(iteration) {
			if err := t.sample(iteration); err != nil {
				return errors.Wrap(err, fmt.Sprintf("Iteration %d", iteration))
			}
		}
		if t.cfg.IsCheckpointIteration(iteration) {
			if err := t.checkpoint(iteration); err != nil {
				return errors.Wrap(err, fmt.Sprintf("Iteration %d", iteration))
			}
		}
		if t.cfg.IsFlushIteration(iteration) {
			if err := t.sink.Flush(); err != nil {
				return errors.Wrap(err, "Can't flush metrics")
			}
		}
		t.sink.Tick()
	}
	return nil
}

// DevCost Returns mean discriminator cost over dev minibatches evaluated with provided noise
func (t *Trainer) DevCost(noise *tensor.Dense) (float64, error) {
	if len(t.data.Dev) == 0 {
		return math.NaN(), fmt.Errorf("Dev set is empty")
	}
	costs := make([]float64, 0, len(t.data.Dev))
	for _, images := range t.data.Dev {
		cs, err := t.critic.Evaluate(images, noise)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "Can't evaluate dev discriminator cost")
		}
		costs = append(costs, cs.Cost)
	}
	return stat.Mean(costs, nil), nil
}

func (t *Trainer) sample(iteration int) error {
	noise := t.lastNoise
	if noise == nil {
		noise = t.noise.NormRandDense(t.cfg.BatchSize, t.cfg.NoiseDim, 1)
	}
	if len(t.data.Dev) != 0 {
		devCost, err := t.DevCost(noise)
		if err != nil {
			return err
		}
		t.sink.Plot("dev discriminator cost", devCost)
	}
	if err := t.GenerateImage(filepath.Join(t.cfg.SamplesDir(), fmt.Sprintf("sample_%d.png", iteration))); err != nil {
		return err
	}
	if t.data.Fixed != nil {
		if err := t.SampleImage(filepath.Join(t.cfg.SamplesDir(), fmt.Sprintf("perturbation_%d.png", iteration))); err != nil {
			return err
		}
	}
	return nil
}

// GenerateImage Saves grid of images decoded from fixed noise
func (t *Trainer) GenerateImage(fname string) error {
	samples, err := t.fixedDecoder.Decode(t.fixedNoise)
	if err != nil {
		return errors.Wrap(err, "Can't decode fixed noise")
	}
	return SaveImages(samples, fname)
}

// SampleImage Saves perturbation grid: every row starts with fixed real image followed by
// image decoded from its recovered noise and images decoded from perturbed versions of that noise
func (t *Trainer) SampleImage(fname string) error {
	mus, err := t.encoder.Encode(t.data.Fixed)
	if err != nil {
		return errors.Wrap(err, "Can't recover noise of fixed real samples")
	}
	deltas := t.noise.NormRandDense(t.cfg.Rows-2, t.cfg.NoiseDim, math.Sqrt(t.cfg.Std))
	extended, err := Perturbations(mus, deltas)
	if err != nil {
		return err
	}
	generated, err := t.perturbDecoder.Decode(extended)
	if err != nil {
		return errors.Wrap(err, "Can't decode perturbed noise")
	}
	samples, err := InterleaveRows(t.data.Fixed, generated, t.cfg.Rows-1)
	if err != nil {
		return err
	}
	return SaveImages(samples, fname)
}

func (t *Trainer) checkpoint(iteration int) error {
	ckpt, err := NewCheckpoint(t.RunID, t.cfg.Mode, iteration, t.parameters())
	if err != nil {
		return errors.Wrap(err, "Can't make checkpoint")
	}
	fname := CheckpointPath(t.cfg.ModelsDir(), iteration)
	if err := ckpt.Save(fname); err != nil {
		return err
	}
	t.logger.Printf("Model saved in file: %s\n", fname)
	if t.data.Test == nil {
		return nil
	}
	return t.evaluateLikelihood()
}

func (t *Trainer) evaluateLikelihood() error {
	samples, err := GenerateSamples(t.batchDecoder, t.noise, t.cfg.ParzenSamples, t.cfg.NoiseDim)
	if err != nil {
		return err
	}
	sigma := t.cfg.ParzenSigma
	if len(t.cfg.ParzenSigmas) != 0 && len(t.data.Dev) != 0 {
		sigma = parzen.CrossValidateSigma(samples, stackRows(t.data.Dev), t.cfg.ParzenSigmas, t.cfg.BatchSize)
		t.logger.Printf("Using Sigma: %v\n", sigma)
		t.sink.Plot("sigma", sigma)
	}
	estimator, err := parzen.New(samples, sigma)
	if err != nil {
		return err
	}
	llMean, llStd := parzen.Evaluate(t.data.Test, estimator, t.cfg.BatchSize)
	rows, _ := t.data.Test.Dims()
	llSE := llStd / math.Sqrt(float64(rows))
	t.logger.Printf("Log-Likelihood of test set = %v, se: %v\n", llMean, llSE)
	t.sink.Plot("test log likelihood", llMean)
	return nil
}

func stackRows(batches []*tensor.Dense) *mat.Dense {
	rows := 0
	for _, b := range batches {
		rows += b.Shape()[0]
	}
	cols := batches[0].Shape()[1]
	data := make([]float64, 0, rows*cols)
	for _, b := range batches {
		data = append(data, b.Data().([]float64)...)
	}
	return mat.NewDense(rows, cols, data)
}

// Close Closes every tape machine
func (t *Trainer) Close() error {
	closers := []interface{ Close() error }{t.critic, t.generator, t.invertor, t.fixedDecoder, t.perturbDecoder, t.batchDecoder, t.encoder}
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
