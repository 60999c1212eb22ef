package gan_inv

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Checkpoint Snapshot of every learnable tensor of experiment
type Checkpoint struct {
	RunID     string
	Mode      string
	Iteration int
	Tensors   map[string]*tensor.Dense
}

// CheckpointPath Returns path of checkpoint for provided iteration
func CheckpointPath(dir string, iteration int) string {
	return filepath.Join(dir, fmt.Sprintf("model-%d.gob", iteration))
}

// NewCheckpoint Copies values of provided nodes. Nodes are keyed by name, so names must be unique
func NewCheckpoint(runID string, mode Mode, iteration int, nodes gorgonia.Nodes) (*Checkpoint, error) {
	ckpt := &Checkpoint{
		RunID:     runID,
		Mode:      mode.String(),
		Iteration: iteration,
		Tensors:   make(map[string]*tensor.Dense, len(nodes)),
	}
	for _, n := range nodes {
		if _, ok := ckpt.Tensors[n.Name()]; ok {
			return nil, fmt.Errorf("Duplicate node name '%s'", n.Name())
		}
		dense, ok := n.Value().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("Value of node '%s' is not *tensor.Dense", n.Name())
		}
		if dense.Dtype() != tensor.Float64 {
			return nil, fmt.Errorf("Node '%s' must be float64, but got %v", n.Name(), dense.Dtype())
		}
		ckpt.Tensors[n.Name()] = dense.Clone().(*tensor.Dense)
	}
	return ckpt, nil
}

// Save Writes checkpoint to file creating parent directories
func (ckpt *Checkpoint) Save(fname string) error {
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return errors.Wrap(err, "Can't create directory for checkpoint")
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create checkpoint file")
	}
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't encode checkpoint")
	}
	return f.Close()
}

// LoadCheckpoint Reads checkpoint from file
func LoadCheckpoint(fname string) (*Checkpoint, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open checkpoint file")
	}
	defer f.Close()
	ckpt := Checkpoint{}
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "Can't decode checkpoint")
	}
	return &ckpt, nil
}

// Restore Copies stored values into values of provided nodes in place
func (ckpt *Checkpoint) Restore(nodes gorgonia.Nodes) error {
	for _, n := range nodes {
		stored, ok := ckpt.Tensors[n.Name()]
		if !ok {
			return fmt.Errorf("Checkpoint has no tensor for node '%s'", n.Name())
		}
		dense, ok := n.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("Value of node '%s' is not *tensor.Dense", n.Name())
		}
		if !dense.Shape().Eq(stored.Shape()) {
			return fmt.Errorf("Node '%s' has shape %v, but checkpoint has %v", n.Name(), dense.Shape(), stored.Shape())
		}
		if dense.Dtype() != stored.Dtype() {
			return fmt.Errorf("Node '%s' has type %v, but checkpoint has %v", n.Name(), dense.Dtype(), stored.Dtype())
		}
		if err := tensor.Copy(dense, stored); err != nil {
			return errors.Wrapf(err, "Can't restore node '%s'", n.Name())
		}
	}
	return nil
}
