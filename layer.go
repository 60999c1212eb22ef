package gan_inv

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just an alias to Weight+Bias+ActivationFunction combo
//
// For LayerBatchNorm WeightNode holds scale and BiasNode holds offset.
// ReshapeDims is per-sample shape: batch dimension is prepended during feedforward.
//
type Layer struct {
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
	ReshapeDims  []int

	// Transposed convolution upsampling factor
	Upsample int
	// Crop size for LayerCrop
	CropHeight int
	CropWidth  int
	// Normalization axes for LayerBatchNorm
	Axes    []int
	Epsilon float64
	// Drop probability for LayerDropout
	Probability float64
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerTransposedConvolutional
	LayerCrop
	LayerReshape
	LayerBatchNorm
	LayerDropout
)

func (t LayerType) String() string {
	switch t {
	case LayerLinear:
		return "linear"
	case LayerFlatten:
		return "flatten"
	case LayerConvolutional:
		return "conv2d"
	case LayerTransposedConvolutional:
		return "conv2d_transpose"
	case LayerCrop:
		return "crop"
	case LayerReshape:
		return "reshape"
	case LayerBatchNorm:
		return "batchnorm"
	case LayerDropout:
		return "dropout"
	default:
		return fmt.Sprintf("layer(%d)", uint16(t))
	}
}

var (
	allowedNoWeights = []LayerType{LayerFlatten, LayerCrop, LayerReshape, LayerDropout}
)

const defaultBatchNormEpsilon = 1e-5

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// Fwd Feedforward input through layer without activation
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
// inference - if true then dropout is skipped
// tag - unique suffix for nodes created by this call
//
func (l *Layer) Fwd(input *gorgonia.Node, batchSize int, inference bool, tag string) (*gorgonia.Node, error) {
	switch l.Type {
	case LayerLinear:
		return l.linearFwd(input, batchSize)
	case LayerConvolutional:
		return l.convFwd(input)
	case LayerTransposedConvolutional:
		return l.transposedConvFwd(input, batchSize, tag)
	case LayerCrop:
		return l.cropFwd(input, batchSize, tag)
	case LayerReshape:
		shp := append(tensor.Shape{batchSize}, l.ReshapeDims...)
		out, err := gorgonia.Reshape(input, shp)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't reshape input %v to %v", input.Shape(), shp))
		}
		return out, nil
	case LayerFlatten:
		out, err := gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
		return out, nil
	case LayerBatchNorm:
		return l.batchNormFwd(input)
	case LayerDropout:
		if inference || l.Probability == 0 {
			return input, nil
		}
		out, err := gorgonia.Dropout(input, l.Probability)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply dropout")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
}

func (l *Layer) linearFwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	tOp, err := gorgonia.Transpose(l.WeightNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose weights")
	}
	out, err := gorgonia.Mul(input, tOp)
	if err != nil {
		return nil, errors.Wrap(err, "Can't multiply input and weights")
	}
	if l.BiasNode == nil {
		return out, nil
	}
	if batchSize < 2 {
		out, err = gorgonia.Add(out, l.BiasNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias")
		}
		return out, nil
	}
	out, err = gorgonia.BroadcastAdd(out, l.BiasNode, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't add [in broadcast term with batch_size = %d] bias", batchSize))
	}
	return out, nil
}

func (l *Layer) convFwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := gorgonia.Conv2d(input, l.WeightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.Dilation)
	if err != nil {
		return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
	}
	if l.BiasNode == nil {
		return out, nil
	}
	// Bias has shape (1, C, 1, 1)
	out, err = gorgonia.BroadcastAdd(out, l.BiasNode, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't add bias to convolution output")
	}
	return out, nil
}

// transposedConvFwd Zero-insertion upsample followed by stride-1 convolution.
// With 'same' padding the result has Upsample*H x Upsample*W spatial size.
func (l *Layer) transposedConvFwd(input *gorgonia.Node, batchSize int, tag string) (*gorgonia.Node, error) {
	factor := l.Upsample
	if factor < 1 {
		factor = 1
	}
	shp := input.Shape()
	if shp.Dims() != 4 {
		return nil, fmt.Errorf("Transposed convolution expects NCHW input, but got %v", shp)
	}
	h, w := shp[2], shp[3]
	upsampled, err := spatialResample(input, batchSize, h, w, factor*h, factor*w, func(i, j int) (int, int, bool) {
		return factor * i, factor * j, true
	}, l.WeightNode.Name()+"_upsample_"+tag)
	if err != nil {
		return nil, errors.Wrap(err, "Can't upsample input")
	}
	return l.convFwd(upsampled)
}

func (l *Layer) cropFwd(input *gorgonia.Node, batchSize int, tag string) (*gorgonia.Node, error) {
	shp := input.Shape()
	if shp.Dims() != 4 {
		return nil, fmt.Errorf("Crop expects NCHW input, but got %v", shp)
	}
	h, w := shp[2], shp[3]
	if l.CropHeight > h || l.CropWidth > w || l.CropHeight < 1 || l.CropWidth < 1 {
		return nil, fmt.Errorf("Can't crop %dx%d out of %dx%d", l.CropHeight, l.CropWidth, h, w)
	}
	out, err := spatialResample(input, batchSize, h, w, l.CropHeight, l.CropWidth, func(i, j int) (int, int, bool) {
		return i, j, i < l.CropHeight && j < l.CropWidth
	}, fmt.Sprintf("crop_%dx%d_%s", l.CropHeight, l.CropWidth, tag))
	if err != nil {
		return nil, errors.Wrap(err, "Can't crop input")
	}
	return out, nil
}

// batchNormFwd Normalizes input by statistics of current batch along provided axes.
// Scale and offset must have the input shape with 1 at every normalized axis.
func (l *Layer) batchNormFwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	shp := input.Shape()
	axes := append([]int{}, l.Axes...)
	if len(axes) == 0 {
		axes = []int{0}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(axes)))
	count := 1
	statShape := shp.Clone()
	pattern := make([]byte, 0, len(axes))
	for _, a := range axes {
		if a < 0 || a >= shp.Dims() {
			return nil, fmt.Errorf("Normalization axis %d is out of range for shape %v", a, shp)
		}
		count *= shp[a]
		statShape[a] = 1
	}
	for i := 0; i < shp.Dims(); i++ {
		if checkAxis(i, axes) {
			pattern = append(pattern, byte(i))
		}
	}
	eps := l.Epsilon
	if eps == 0 {
		eps = defaultBatchNormEpsilon
	}
	countNode := gorgonia.NewConstant(float64(count))

	mean, err := reduceMean(input, axes, countNode, statShape)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate batch mean")
	}
	centered, err := gorgonia.BroadcastSub(input, mean, nil, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X-mean)")
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	variance, err := reduceMean(sqr, axes, countNode, statShape)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate batch variance")
	}
	variance, err = gorgonia.Add(variance, gorgonia.NewConstant(eps))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	std, err := gorgonia.Sqrt(variance)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(var+eps)")
	}
	normalized, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X-mean)/std")
	}
	if l.WeightNode != nil {
		normalized, err = gorgonia.BroadcastHadamardProd(normalized, l.WeightNode, nil, pattern)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply scale")
		}
	}
	if l.BiasNode != nil {
		normalized, err = gorgonia.BroadcastAdd(normalized, l.BiasNode, nil, pattern)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply offset")
		}
	}
	return normalized, nil
}

// reduceMean Sums along axes (sorted in descending order) one by one and reshapes result to statShape
func reduceMean(input *gorgonia.Node, axes []int, count *gorgonia.Node, statShape tensor.Shape) (*gorgonia.Node, error) {
	var err error
	sum := input
	for _, a := range axes {
		sum, err = gorgonia.Sum(sum, a)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't sum along axis %d", a))
		}
	}
	mean, err := gorgonia.Div(sum, count)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (sum/N)")
	}
	return gorgonia.Reshape(mean, statShape)
}

func checkAxis(axis int, axes []int) bool {
	for _, a := range axes {
		if a == axis {
			return true
		}
	}
	return false
}

// spatialResample Moves every HxW plane of NCHW input into outHxoutW plane.
// mapping returns target coordinates of input pixel (i, j) and whether it is kept.
// Implemented as product with constant 0/1 matrix so gradient flows with usual matmul rules.
func spatialResample(input *gorgonia.Node, batchSize, h, w, outH, outW int, mapping func(i, j int) (int, int, bool), name string) (*gorgonia.Node, error) {
	shp := input.Shape()
	channels := shp[1]
	operator := SpatialOperator(h, w, outH, outW, mapping)
	operatorNode := gorgonia.NewMatrix(input.Graph(), gorgonia.Float64, gorgonia.WithShape(h*w, outH*outW), gorgonia.WithName(name), gorgonia.WithValue(operator))
	flat, err := gorgonia.Reshape(input, tensor.Shape{batchSize * channels, h * w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't flatten spatial dimensions")
	}
	moved, err := gorgonia.Mul(flat, operatorNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't multiply input and spatial operator")
	}
	return gorgonia.Reshape(moved, tensor.Shape{batchSize, channels, outH, outW})
}

// SpatialOperator Returns (h*w, outH*outW) matrix with single 1 in each row of kept pixel
func SpatialOperator(h, w, outH, outW int, mapping func(i, j int) (int, int, bool)) *tensor.Dense {
	data := make([]float64, h*w*outH*outW)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			ti, tj, ok := mapping(i, j)
			if !ok || ti < 0 || tj < 0 || ti >= outH || tj >= outW {
				continue
			}
			data[(i*w+j)*(outH*outW)+ti*outW+tj] = 1
		}
	}
	return tensor.New(tensor.WithShape(h*w, outH*outW), tensor.WithBacking(data))
}
