package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	gan "github.com/LdDl/gan-inv"
	"github.com/LdDl/gan-inv/mnist"
	"github.com/LdDl/gan-inv/tracker"
)

// sigmasFlag Comma separated list of floats
type sigmasFlag []float64

func (s *sigmasFlag) String() string {
	parts := make([]string, len(*s))
	for i, v := range *s {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (s *sigmasFlag) Set(value string) error {
	parsed := sigmasFlag{}
	for _, part := range strings.Split(value, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return err
		}
		parsed = append(parsed, v)
	}
	*s = parsed
	return nil
}

var (
	cfg    = gan.DefaultConfig()
	sigmas = sigmasFlag{}
)

func init() {
	flag.Var(&cfg.Mode, "mode", "Loss regime: wgan, wgan-gp or dcgan")
	flag.IntVar(&cfg.Dim, "dim", cfg.Dim, "Model dimensionality")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Batch size")
	flag.IntVar(&cfg.CriticIters, "critic-iters", cfg.CriticIters, "Critic iterations per generator iteration (ignored by dcgan)")
	flag.Float64Var(&cfg.Lambda, "lambda", cfg.Lambda, "Gradient penalty coefficient")
	flag.IntVar(&cfg.Iters, "iters", cfg.Iters, "Number of generator iterations")
	flag.IntVar(&cfg.NoiseDim, "noise", cfg.NoiseDim, "Dimension of latent space")
	flag.IntVar(&cfg.Rows, "rows", cfg.Rows, "Rows of perturbation grid")
	flag.Float64Var(&cfg.Std, "std", cfg.Std, "Variance of perturbations")
	flag.IntVar(&cfg.FixedNoise, "fixed-noise", cfg.FixedNoise, "Number of images on fixed noise grid")
	flag.IntVar(&cfg.SampleEvery, "sample-every", cfg.SampleEvery, "Dev cost and image grids period")
	flag.IntVar(&cfg.CheckpointEvery, "checkpoint-every", cfg.CheckpointEvery, "Checkpoint and log-likelihood period")
	flag.IntVar(&cfg.FlushEvery, "flush-every", cfg.FlushEvery, "Metrics flush period")
	flag.IntVar(&cfg.ParzenSamples, "parzen-samples", cfg.ParzenSamples, "Number of generated samples for Parzen window")
	flag.Float64Var(&cfg.ParzenSigma, "parzen-sigma", cfg.ParzenSigma, "Width of Parzen window")
	flag.Var(&sigmas, "parzen-sigmas", "Comma separated widths to cross validate on dev set (overrides -parzen-sigma)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Directory with gzipped MNIST IDX files")
	flag.IntVar(&cfg.DevSize, "dev-size", cfg.DevSize, "Number of training images held out as dev set")
	flag.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "Root directory for samples, models and charts")
	flag.StringVar(&cfg.Resume, "resume", cfg.Resume, "Checkpoint to continue training from")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of noise and shuffling")
}

func main() {
	flag.Parse()
	cfg.ParzenSigmas = sigmas
	logger := log.New(os.Stdout, "", 0)

	if err := cfg.WriteSettings(os.Stdout); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	dataset, err := mnist.Load(cfg.DataDir, cfg.DevSize)
	if err != nil {
		panic(err)
	}
	// Same seed as training stream, so fixed real samples come from its first minibatches
	fixed, err := gan.SelectOnePerClass(dataset.Train.Stream(cfg.BatchSize, cfg.SeedAt(0)), cfg.Rows, 1000)
	if err != nil {
		panic(err)
	}
	train := dataset.Train.Stream(cfg.BatchSize, cfg.SeedAt(0))
	data := gan.Data{
		Train: train,
		Dev:   dataset.Dev.Batches(cfg.BatchSize),
		Test:  dataset.Test.Matrix(),
		Fixed: fixed,
	}

	metrics := tracker.New(cfg.OutputPath, logger)
	trainer, err := gan.NewTrainer(cfg, data, metrics, logger)
	if err != nil {
		panic(err)
	}
	defer trainer.Close()
	if trainer.StartIteration() > 0 {
		if err := metrics.Load(); err != nil {
			logger.Printf("Metrics history is not restored: %v\n", err)
		}
		metrics.SetIteration(trainer.StartIteration())
		train.Reseed(cfg.SeedAt(trainer.StartIteration()))
	}
	logger.Printf("Run %s, mode %s\n", trainer.RunID, cfg.Mode)

	if err := trainer.Train(); err != nil {
		panic(err)
	}
}
