package gan_inv

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Decoder Inference graph mapping fixed size batch of noise to images
type Decoder struct {
	batchSize int
	graph     *gorgonia.ExprGraph
	input     *gorgonia.Node
	outVal    gorgonia.Value
	vm        gorgonia.VM
}

// NewDecoder Returns decoder sharing parameters of provided generator
func NewDecoder(gen *GeneratorNet, batchSize, noiseDim int) (*Decoder, error) {
	d := &Decoder{batchSize: batchSize, graph: gorgonia.NewGraph()}
	genShared, err := gen.Share(d.graph, fmt.Sprintf("_decoder%d", batchSize), true)
	if err != nil {
		return nil, err
	}
	d.input = gorgonia.NewMatrix(d.graph, gorgonia.Float64, gorgonia.WithShape(batchSize, noiseDim), gorgonia.WithName("decoder_input"))
	out, err := genShared.Fwd(d.input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward noise [decoder]")
	}
	gorgonia.Read(out, &d.outVal)
	d.vm = gorgonia.NewTapeMachine(d.graph)
	return d, nil
}

// BatchSize Returns number of noise vectors in single call
func (d *Decoder) BatchSize() int {
	return d.batchSize
}

// Decode Returns images of shape (batchSize, 784) for noise of shape (batchSize, noise dimension)
func (d *Decoder) Decode(noise *tensor.Dense) (*tensor.Dense, error) {
	return runInference(d.vm, d.input, noise, &d.outVal)
}

// Close Closes tape machine
func (d *Decoder) Close() error {
	return d.vm.Close()
}

// Encoder Inference graph mapping fixed size batch of images to noise recovered by invertor
type Encoder struct {
	batchSize int
	graph     *gorgonia.ExprGraph
	input     *gorgonia.Node
	outVal    gorgonia.Value
	vm        gorgonia.VM
}

// NewEncoder Returns encoder sharing parameters of provided discriminator
func NewEncoder(dis *DiscriminatorNet, batchSize int) (*Encoder, error) {
	e := &Encoder{batchSize: batchSize, graph: gorgonia.NewGraph()}
	disShared, err := dis.Share(e.graph, fmt.Sprintf("_encoder%d", batchSize), true)
	if err != nil {
		return nil, err
	}
	e.input = gorgonia.NewMatrix(e.graph, gorgonia.Float64, gorgonia.WithShape(batchSize, OutputDim), gorgonia.WithName("encoder_input"))
	out, err := disShared.Invert(e.input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't feedforward images [encoder]")
	}
	gorgonia.Read(out, &e.outVal)
	e.vm = gorgonia.NewTapeMachine(e.graph)
	return e, nil
}

// Encode Returns noise estimate of shape (batchSize, noise dimension)
func (e *Encoder) Encode(images *tensor.Dense) (*tensor.Dense, error) {
	return runInference(e.vm, e.input, images, &e.outVal)
}

// Close Closes tape machine
func (e *Encoder) Close() error {
	return e.vm.Close()
}

func runInference(vm gorgonia.VM, input *gorgonia.Node, value *tensor.Dense, out *gorgonia.Value) (*tensor.Dense, error) {
	if err := gorgonia.Let(input, value); err != nil {
		return nil, errors.Wrap(err, "Can't init input value")
	}
	defer vm.Reset()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	dense, ok := (*out).(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Output has unexpected type %T", *out)
	}
	// Output value is reused by next run
	return dense.Clone().(*tensor.Dense), nil
}

// Perturbations Builds noise for perturbation grid: for every row k noise is
// [mus[k], mus[k]+deltas[0], ..., mus[k]+deltas[len(deltas)-1]]
//
// mus - (rows, noise dimension)
// deltas - (count, noise dimension)
//
func Perturbations(mus, deltas *tensor.Dense) (*tensor.Dense, error) {
	if mus.Dims() != 2 || deltas.Dims() != 2 || mus.Shape()[1] != deltas.Shape()[1] {
		return nil, fmt.Errorf("Can't combine mus %v and deltas %v", mus.Shape(), deltas.Shape())
	}
	rows, n := mus.Shape()[0], mus.Shape()[1]
	count := deltas.Shape()[0]
	muData := mus.Data().([]float64)
	deltaData := deltas.Data().([]float64)
	data := make([]float64, 0, rows*(count+1)*n)
	for k := 0; k < rows; k++ {
		mu := muData[k*n : (k+1)*n]
		data = append(data, mu...)
		for d := 0; d < count; d++ {
			delta := deltaData[d*n : (d+1)*n]
			for i := range mu {
				data = append(data, mu[i]+delta[i])
			}
		}
	}
	return tensor.New(tensor.WithShape(rows*(count+1), n), tensor.WithBacking(data)), nil
}

// InterleaveRows Returns grid of real images each followed by 'perRow' generated ones
//
// real - (rows, features)
// generated - (rows*perRow, features)
//
func InterleaveRows(real, generated *tensor.Dense, perRow int) (*tensor.Dense, error) {
	rows, features := real.Shape()[0], real.Shape()[1]
	if generated.Shape()[0] != rows*perRow || generated.Shape()[1] != features {
		return nil, fmt.Errorf("Can't interleave %v real samples with %v generated ones", real.Shape(), generated.Shape())
	}
	realData := real.Data().([]float64)
	genData := generated.Data().([]float64)
	data := make([]float64, 0, rows*(perRow+1)*features)
	for k := 0; k < rows; k++ {
		data = append(data, realData[k*features:(k+1)*features]...)
		data = append(data, genData[k*perRow*features:(k+1)*perRow*features]...)
	}
	return tensor.New(tensor.WithShape(rows*(perRow+1), features), tensor.WithBacking(data)), nil
}

// GenerateSamples Decodes fresh noise until 'n' images are collected. Returns (n, 784) matrix
func GenerateSamples(dec *Decoder, noise *NoiseSampler, n, noiseDim int) (*mat.Dense, error) {
	samples := mat.NewDense(n, OutputDim, nil)
	for row := 0; row < n; row += dec.BatchSize() {
		images, err := dec.Decode(noise.NormRandDense(dec.BatchSize(), noiseDim, 1))
		if err != nil {
			return nil, errors.Wrap(err, "Can't generate samples")
		}
		data := images.Data().([]float64)
		for i := 0; i < dec.BatchSize() && row+i < n; i++ {
			samples.SetRow(row+i, data[i*OutputDim:(i+1)*OutputDim])
		}
	}
	return samples, nil
}
