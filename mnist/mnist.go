// Package mnist reads gzipped IDX files of MNIST dataset
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

const (
	// DefaultDir Directory files are looked for by default
	DefaultDir = "/tmp/mnist"

	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"

	imagesMagic = 2051
	labelsMagic = 2049
)

// Images Pixels of IDX images file scaled to [0, 1]: 'Count' images of Rows*Cols values each
type Images struct {
	Count int
	Rows  int
	Cols  int
	Data  []float64
}

// ReadImages Parses uncompressed IDX images file
func ReadImages(r io.Reader) (*Images, error) {
	header := [4]int32{}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "Can't read images header")
	}
	if header[0] != imagesMagic {
		return nil, fmt.Errorf("Bad magic number of images file: %d", header[0])
	}
	count, rows, cols := int(header[1]), int(header[2]), int(header[3])
	if count < 0 || rows < 1 || cols < 1 {
		return nil, fmt.Errorf("Bad dimensions of images file: %d x %d x %d", count, rows, cols)
	}
	raw := make([]byte, count*rows*cols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "Can't read pixels")
	}
	data := make([]float64, len(raw))
	for i, b := range raw {
		data[i] = float64(b) / 255.0
	}
	return &Images{Count: count, Rows: rows, Cols: cols, Data: data}, nil
}

// ReadLabels Parses uncompressed IDX labels file
func ReadLabels(r io.Reader) ([]int, error) {
	header := [2]int32{}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "Can't read labels header")
	}
	if header[0] != labelsMagic {
		return nil, fmt.Errorf("Bad magic number of labels file: %d", header[0])
	}
	if header[1] < 0 {
		return nil, fmt.Errorf("Bad number of labels: %d", header[1])
	}
	raw := make([]byte, header[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "Can't read labels")
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}

func openGzip(fname string, parse func(r io.Reader) error) error {
	f, err := os.Open(fname)
	if err != nil {
		return errors.Wrap(err, "Can't open file")
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't ungzip file '%s'", fname))
	}
	defer gz.Close()
	if err := parse(gz); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't parse file '%s'", fname))
	}
	return nil
}

// Split Images of one part of dataset together with labels
type Split struct {
	Features int
	Images   []float64
	Labels   []int
}

// Len Returns number of images
func (s *Split) Len() int {
	return len(s.Labels)
}

// Image Returns pixels of i-th image
func (s *Split) Image(i int) []float64 {
	return s.Images[i*s.Features : (i+1)*s.Features]
}

// Batches Returns consecutive minibatches of shape (batchSize, features). Incomplete tail is dropped
func (s *Split) Batches(batchSize int) []*tensor.Dense {
	batches := make([]*tensor.Dense, 0, s.Len()/batchSize)
	for start := 0; start+batchSize <= s.Len(); start += batchSize {
		data := append([]float64{}, s.Images[start*s.Features:(start+batchSize)*s.Features]...)
		batches = append(batches, tensor.New(tensor.WithShape(batchSize, s.Features), tensor.WithBacking(data)))
	}
	return batches
}

// Matrix Returns all images as (n, features) matrix
func (s *Split) Matrix() *mat.Dense {
	return mat.NewDense(s.Len(), s.Features, append([]float64{}, s.Images...))
}

// Stream Returns infinite minibatch stream reshuffled at every epoch
func (s *Split) Stream(batchSize int, seed int64) *Stream {
	order := make([]int, s.Len())
	for i := range order {
		order[i] = i
	}
	return &Stream{
		split:     s,
		batchSize: batchSize,
		order:     order,
		pos:       len(order),
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// Stream Infinite source of shuffled minibatches
type Stream struct {
	split     *Split
	batchSize int
	order     []int
	pos       int
	rnd       *rand.Rand
}

// Reseed Restarts shuffling with provided seed. Next batch is taken from freshly shuffled order
func (st *Stream) Reseed(seed int64) {
	for i := range st.order {
		st.order[i] = i
	}
	st.pos = len(st.order)
	st.rnd = rand.New(rand.NewSource(seed))
}

// Next Returns images of shape (batchSize, features) and their labels
func (st *Stream) Next() (*tensor.Dense, []int) {
	if st.pos+st.batchSize > len(st.order) {
		st.rnd.Shuffle(len(st.order), func(i, j int) {
			st.order[i], st.order[j] = st.order[j], st.order[i]
		})
		st.pos = 0
	}
	features := st.split.Features
	data := make([]float64, 0, st.batchSize*features)
	labels := make([]int, 0, st.batchSize)
	for _, idx := range st.order[st.pos : st.pos+st.batchSize] {
		data = append(data, st.split.Image(idx)...)
		labels = append(labels, st.split.Labels[idx])
	}
	st.pos += st.batchSize
	return tensor.New(tensor.WithShape(st.batchSize, features), tensor.WithBacking(data)), labels
}

// Dataset Train, dev and test splits. Dev split is the tail of original training set
type Dataset struct {
	Train *Split
	Dev   *Split
	Test  *Split
}

// Load Reads dataset from directory. The last 'devSize' training images become dev split
func Load(dir string, devSize int) (*Dataset, error) {
	train, err := loadSplit(filepath.Join(dir, TrainImagesFile), filepath.Join(dir, TrainLabelsFile))
	if err != nil {
		return nil, errors.Wrap(err, "Can't load train split")
	}
	test, err := loadSplit(filepath.Join(dir, TestImagesFile), filepath.Join(dir, TestLabelsFile))
	if err != nil {
		return nil, errors.Wrap(err, "Can't load test split")
	}
	if devSize < 0 || devSize >= train.Len() {
		return nil, fmt.Errorf("Dev size must be in [0; %d), but got %d", train.Len(), devSize)
	}
	cut := train.Len() - devSize
	dev := &Split{
		Features: train.Features,
		Images:   train.Images[cut*train.Features:],
		Labels:   train.Labels[cut:],
	}
	train.Images = train.Images[:cut*train.Features]
	train.Labels = train.Labels[:cut]
	return &Dataset{Train: train, Dev: dev, Test: test}, nil
}

func loadSplit(imagesFile, labelsFile string) (*Split, error) {
	var images *Images
	err := openGzip(imagesFile, func(r io.Reader) error {
		var err error
		images, err = ReadImages(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	var labels []int
	err = openGzip(labelsFile, func(r io.Reader) error {
		var err error
		labels, err = ReadLabels(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(labels) != images.Count {
		return nil, fmt.Errorf("Got %d images, but %d labels", images.Count, len(labels))
	}
	return &Split{
		Features: images.Rows * images.Cols,
		Images:   images.Data,
		Labels:   labels,
	}, nil
}
