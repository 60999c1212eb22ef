package gan_inv

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config Settings of experiment
type Config struct {
	Mode        Mode
	Dim         int
	BatchSize   int
	CriticIters int
	Lambda      float64
	Iters       int
	NoiseDim    int
	// Rows Number of digits (and grid rows) on perturbation image
	Rows int
	// Std Variance of perturbations around recovered noise
	Std float64
	// FixedNoise Number of images on fixed noise grid
	FixedNoise int

	SampleEvery     int
	CheckpointEvery int
	FlushEvery      int

	ParzenSamples int
	ParzenSigma   float64
	// ParzenSigmas If not empty then sigma is cross validated on dev set among these values
	ParzenSigmas []float64

	DataDir    string
	DevSize    int
	OutputPath string
	// Resume Path to checkpoint training should continue from
	Resume string
	Seed   int64
}

// DefaultConfig Returns settings of experiment
func DefaultConfig() Config {
	return Config{
		Mode:            ModeWGANGP,
		Dim:             64,
		BatchSize:       50,
		CriticIters:     5,
		Lambda:          10,
		Iters:           200000,
		NoiseDim:        128,
		Rows:            10,
		Std:             1.0,
		FixedNoise:      128,
		SampleEvery:     1000,
		CheckpointEvery: 10000,
		FlushEvery:      100,
		ParzenSamples:   10000,
		ParzenSigma:     0.2,
		DataDir:         "/tmp/mnist",
		DevSize:         10000,
		OutputPath:      DefaultOutputPath(),
		Seed:            1337,
	}
}

// DefaultOutputPath Returns working directory with 'Repositories' replaced by 'Output'
func DefaultOutputPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return "Output"
	}
	return strings.Replace(wd, "Repositories", "Output", -1)
}

// Validate Checks settings consistency
func (cfg Config) Validate() error {
	if _, err := RegimeFor(cfg.Mode, cfg.CriticIters, cfg.Lambda); err != nil {
		return err
	}
	if err := validateArchitecture(cfg.Architecture(false)); err != nil {
		return err
	}
	positive := []struct {
		name  string
		value int
	}{
		{"BatchSize", cfg.BatchSize},
		{"CriticIters", cfg.CriticIters},
		{"Iters", cfg.Iters},
		{"FixedNoise", cfg.FixedNoise},
		{"SampleEvery", cfg.SampleEvery},
		{"CheckpointEvery", cfg.CheckpointEvery},
		{"FlushEvery", cfg.FlushEvery},
		{"ParzenSamples", cfg.ParzenSamples},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("%s must be positive, but got %d", p.name, p.value)
		}
	}
	if cfg.Rows < 3 || cfg.Rows > 10 {
		return fmt.Errorf("Rows must be in [3; 10], but got %d", cfg.Rows)
	}
	if cfg.Lambda < 0 {
		return fmt.Errorf("Lambda can't be negative, but got %f", cfg.Lambda)
	}
	if cfg.Std <= 0 {
		return fmt.Errorf("Std must be positive, but got %f", cfg.Std)
	}
	if cfg.ParzenSigma <= 0 {
		return fmt.Errorf("ParzenSigma must be positive, but got %f", cfg.ParzenSigma)
	}
	for _, s := range cfg.ParzenSigmas {
		if s <= 0 {
			return fmt.Errorf("ParzenSigmas must be positive, but got %f", s)
		}
	}
	if cfg.OutputPath == "" {
		return fmt.Errorf("OutputPath is empty")
	}
	return nil
}

// Architecture Returns network sizes
func (cfg Config) Architecture(batchNorm bool) Architecture {
	return Architecture{
		Dim:       cfg.Dim,
		NoiseDim:  cfg.NoiseDim,
		BatchNorm: batchNorm,
	}
}

// SeedAt Seed of training noise and minibatch order for run started at provided iteration.
// Fixed noise and fixed real samples keep Seed, so pictures stay comparable between resumed runs
func (cfg Config) SeedAt(iteration int) int64 {
	return cfg.Seed + 1 + int64(iteration)
}

// IsSampleIteration Whether dev cost and image grids are evaluated after iteration
func (cfg Config) IsSampleIteration(iteration int) bool {
	return iteration%cfg.SampleEvery == cfg.SampleEvery-1
}

// IsCheckpointIteration Whether checkpoint and log-likelihood are evaluated after iteration
func (cfg Config) IsCheckpointIteration(iteration int) bool {
	return iteration%cfg.CheckpointEvery == cfg.CheckpointEvery-1
}

// IsFlushIteration Whether metrics are flushed after iteration
func (cfg Config) IsFlushIteration(iteration int) bool {
	return iteration < 5 || iteration%cfg.FlushEvery == cfg.FlushEvery-1
}

// SamplesDir Directory for image grids
func (cfg Config) SamplesDir() string {
	return filepath.Join(cfg.OutputPath, "samples", "mnist")
}

// ModelsDir Directory for checkpoints
func (cfg Config) ModelsDir() string {
	return filepath.Join(cfg.OutputPath, "models", "mnist")
}

// WriteSettings Prints every setting, one per line
func (cfg Config) WriteSettings(w io.Writer) error {
	settings := []struct {
		name  string
		value interface{}
	}{
		{"MODE", cfg.Mode},
		{"DIM", cfg.Dim},
		{"BATCH_SIZE", cfg.BatchSize},
		{"CRITIC_ITERS", cfg.CriticIters},
		{"LAMBDA", cfg.Lambda},
		{"ITERS", cfg.Iters},
		{"OUTPUT_DIM", OutputDim},
		{"NOISE_DIM", cfg.NoiseDim},
		{"ROWS", cfg.Rows},
		{"STD", cfg.Std},
		{"FIXED_NOISE", cfg.FixedNoise},
		{"SAMPLE_EVERY", cfg.SampleEvery},
		{"CHECKPOINT_EVERY", cfg.CheckpointEvery},
		{"FLUSH_EVERY", cfg.FlushEvery},
		{"PARZEN_SAMPLES", cfg.ParzenSamples},
		{"PARZEN_SIGMA", cfg.ParzenSigma},
		{"PARZEN_SIGMAS", cfg.ParzenSigmas},
		{"DATA_DIR", cfg.DataDir},
		{"DEV_SIZE", cfg.DevSize},
		{"OUTPUT_PATH", cfg.OutputPath},
		{"RESUME", cfg.Resume},
		{"SEED", cfg.Seed},
	}
	if _, err := fmt.Fprintln(w, "Uppercase local vars:"); err != nil {
		return err
	}
	for _, s := range settings {
		if _, err := fmt.Fprintf(w, "\t%s: %v\n", s.name, s.value); err != nil {
			return err
		}
	}
	return nil
}
