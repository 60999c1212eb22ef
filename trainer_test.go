package gan_inv

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type randomStream struct {
	batchSize int
	noise     *NoiseSampler
}

func (s *randomStream) Next() (*tensor.Dense, []int) {
	labels := make([]int, s.batchSize)
	for i := range labels {
		labels[i] = i % 10
	}
	return s.noise.UniformRandDense(s.batchSize, OutputDim), labels
}

type recordingSink struct {
	values  map[string][]float64
	ticks   int
	flushes int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{values: map[string][]float64{}}
}

func (s *recordingSink) Plot(name string, value float64) { s.values[name] = append(s.values[name], value) }
func (s *recordingSink) Tick()                           { s.ticks++ }
func (s *recordingSink) Flush() error                    { s.flushes++; return nil }

func tinyConfig(t *testing.T, mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Dim = 2
	cfg.NoiseDim = 4
	cfg.BatchSize = 2
	cfg.CriticIters = 2
	cfg.Rows = 3
	cfg.FixedNoise = 4
	cfg.ParzenSamples = 4
	cfg.Iters = 2
	cfg.SampleEvery = 2
	cfg.CheckpointEvery = 2
	cfg.OutputPath = t.TempDir()
	return cfg
}

func tinyData(cfg Config) Data {
	noise := NewNoiseSampler(5)
	return Data{
		Train: &randomStream{batchSize: cfg.BatchSize, noise: noise},
		Dev:   []*tensor.Dense{noise.UniformRandDense(cfg.BatchSize, OutputDim)},
		Test:  mat.NewDense(3, OutputDim, noise.UniformRandDense(3, OutputDim).Data().([]float64)),
		Fixed: noise.UniformRandDense(cfg.Rows, OutputDim),
	}
}

func TestTrainerStep(t *testing.T) {
	for _, mode := range []Mode{ModeWGAN, ModeWGANGP, ModeDCGAN} {
		cfg := tinyConfig(t, mode)
		trainer, err := NewTrainer(cfg, tinyData(cfg), newRecordingSink(), log.New(&bytes.Buffer{}, "", 0))
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		stats, err := trainer.Step()
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		for name, v := range map[string]float64{"critic": stats.CriticCost, "generator": stats.GeneratorCost, "invertor": stats.InvertorCost} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%s: %s cost is %f", mode, name, v)
			}
		}
		if mode == ModeWGAN {
			for _, n := range trainer.dis.Learnables() {
				for _, v := range n.Value().Data().([]float64) {
					if v < -0.01 || v > 0.01 {
						t.Fatalf("Parameter of '%s' is not clipped: %f", n.Name(), v)
					}
				}
			}
		}
		if mode != ModeWGANGP && stats.Penalty != 0 {
			t.Errorf("%s: unexpected penalty %f", mode, stats.Penalty)
		}
		trainer.Close()
	}
}

func TestTrainerTrain(t *testing.T) {
	cfg := tinyConfig(t, ModeWGANGP)
	sink := newRecordingSink()
	logs := bytes.Buffer{}
	trainer, err := NewTrainer(cfg, tinyData(cfg), sink, log.New(&logs, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := trainer.Train(); err != nil {
		t.Fatal(err)
	}
	trainer.Close()

	if sink.ticks != 2 || sink.flushes != 2 {
		t.Errorf("Expected 2 ticks and 2 flushes, but got %d and %d", sink.ticks, sink.flushes)
	}
	for _, name := range []string{"train discriminator cost", "train invertor cost", "train gradient penalty", "time"} {
		if len(sink.values[name]) != 2 {
			t.Errorf("Metric '%s' has %d values", name, len(sink.values[name]))
		}
	}
	for _, name := range []string{"dev discriminator cost", "test log likelihood"} {
		if len(sink.values[name]) != 1 {
			t.Errorf("Metric '%s' has %d values", name, len(sink.values[name]))
		}
	}
	for _, fname := range []string{
		filepath.Join(cfg.SamplesDir(), "sample_1.png"),
		filepath.Join(cfg.SamplesDir(), "perturbation_1.png"),
		CheckpointPath(cfg.ModelsDir(), 1),
	} {
		if _, err := os.Stat(fname); err != nil {
			t.Errorf("File is missing: %v", err)
		}
	}
	if !bytes.Contains(logs.Bytes(), []byte("Log-Likelihood of test set = ")) {
		t.Errorf("Log-likelihood is not logged: %s", logs.String())
	}

	resumed := cfg
	resumed.Resume = CheckpointPath(cfg.ModelsDir(), 1)
	restored, err := NewTrainer(resumed, tinyData(cfg), newRecordingSink(), log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	if restored.StartIteration() != 2 || restored.RunID != trainer.RunID {
		t.Errorf("Expected run %s from iteration 2, but got run %s from %d", trainer.RunID, restored.RunID, restored.StartIteration())
	}
	original := trainer.parameters()
	for i, n := range restored.parameters() {
		if fmt.Sprint(n.Value().Data()) != fmt.Sprint(original[i].Value().Data()) {
			t.Fatalf("Node '%s' is not restored", n.Name())
		}
	}

	// Resumed run continues with new noise, but keeps fixed noise
	noiseBatch := func(n *NoiseSampler) string { return fmt.Sprint(n.NormRandDense(cfg.BatchSize, cfg.NoiseDim, 1).Data()) }
	if noiseBatch(restored.noise) == noiseBatch(NewNoiseSampler(cfg.SeedAt(0))) {
		t.Error("Resumed run replays noise of first iteration")
	}
	if noiseBatch(restored.noise) != noiseBatch(NewNoiseSampler(cfg.SeedAt(2))) {
		t.Error("Noise of resumed run must be seeded with start iteration")
	}
	if fmt.Sprint(restored.fixedNoise.Data()) != fmt.Sprint(trainer.fixedNoise.Data()) {
		t.Error("Fixed noise must not depend on start iteration")
	}

	wrongMode := resumed
	wrongMode.Mode = ModeDCGAN
	if _, err := NewTrainer(wrongMode, tinyData(cfg), newRecordingSink(), log.New(&bytes.Buffer{}, "", 0)); err == nil {
		t.Error("Checkpoint of other mode must be rejected")
	}
}

func TestCriticCostWithoutPenalty(t *testing.T) {
	for _, mode := range []Mode{ModeWGAN, ModeWGANGP, ModeDCGAN} {
		cfg := tinyConfig(t, mode)
		data := tinyData(cfg)
		trainer, err := NewTrainer(cfg, data, newRecordingSink(), log.New(&bytes.Buffer{}, "", 0))
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		real, _ := data.Train.Next()
		noise := trainer.noise.NormRandDense(cfg.BatchSize, cfg.NoiseDim, 1)
		for _, update := range []bool{false, true} {
			stats, err := trainer.critic.evaluate(real, noise, update)
			if err != nil {
				t.Fatalf("%s: %v", mode, err)
			}
			expected := stats.Cost + trainer.regime.Lambda*stats.Penalty
			if !trainer.regime.GradientPenalty {
				expected = stats.Cost
				if stats.Penalty != 0 {
					t.Errorf("%s: unexpected penalty %f", mode, stats.Penalty)
				}
			}
			if math.Abs(stats.Total-expected) > 1e-9 {
				t.Errorf("%s: minimized cost %f must be %f (cost %f, penalty %f)", mode, stats.Total, expected, stats.Cost, stats.Penalty)
			}
			if trainer.regime.GradientPenalty && stats.Penalty <= 0 {
				t.Errorf("%s: penalty must be positive, but got %f", mode, stats.Penalty)
			}
		}
		trainer.Close()
	}
}

func snapshot(nodes []*gorgonia.Node) [][]float64 {
	values := make([][]float64, len(nodes))
	for i, n := range nodes {
		values[i] = append([]float64{}, n.Value().Data().([]float64)...)
	}
	return values
}

func changedNodes(before, after [][]float64) []bool {
	changed := make([]bool, len(before))
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				changed[i] = true
				break
			}
		}
	}
	return changed
}

func TestStepUpdateTargets(t *testing.T) {
	const (
		genPart = iota
		disPart
		invPart
	)
	parts := []string{"generator", "discriminator", "invertor"}
	for _, mode := range []Mode{ModeWGAN, ModeWGANGP, ModeDCGAN} {
		cfg := tinyConfig(t, mode)
		data := tinyData(cfg)
		trainer, err := NewTrainer(cfg, data, newRecordingSink(), log.New(&bytes.Buffer{}, "", 0))
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		owner := []int{}
		for part, nodes := range []gorgonia.Nodes{trainer.gen.Learnables(), trainer.dis.Learnables(), trainer.dis.InvertorLearnables()} {
			for range nodes {
				owner = append(owner, part)
			}
		}
		params := trainer.parameters()
		if len(params) != len(owner) {
			t.Fatalf("%s: expected %d parameters, but got %d", mode, len(owner), len(params))
		}

		real, _ := data.Train.Next()
		noise := trainer.noise.NormRandDense(cfg.BatchSize, cfg.NoiseDim, 1)
		steps := []struct {
			target int
			step   func() error
		}{
			{disPart, func() error { _, err := trainer.critic.Step(real, noise); return err }},
			{genPart, func() error { _, err := trainer.generator.Step(noise); return err }},
			{invPart, func() error { _, err := trainer.invertor.Step(noise); return err }},
		}
		for _, st := range steps {
			before := snapshot(params)
			if err := st.step(); err != nil {
				t.Fatalf("%s: %s step: %v", mode, parts[st.target], err)
			}
			updated := 0
			for i, changed := range changedNodes(before, snapshot(params)) {
				if !changed {
					continue
				}
				if owner[i] != st.target {
					t.Errorf("%s: %s step changed %s node '%s'", mode, parts[st.target], parts[owner[i]], params[i].Name())
					continue
				}
				updated++
			}
			if updated == 0 {
				t.Errorf("%s: %s step changed nothing", mode, parts[st.target])
			}
		}
		trainer.Close()
	}
}
