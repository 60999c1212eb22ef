package mnist

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func idxImages(count, rows, cols int) []byte {
	buf := bytes.Buffer{}
	binary.Write(&buf, binary.BigEndian, [4]int32{imagesMagic, int32(count), int32(rows), int32(cols)})
	for i := 0; i < count*rows*cols; i++ {
		buf.WriteByte(byte(i % 256))
	}
	return buf.Bytes()
}

func idxLabels(labels []byte) []byte {
	buf := bytes.Buffer{}
	binary.Write(&buf, binary.BigEndian, [2]int32{labelsMagic, int32(len(labels))})
	buf.Write(labels)
	return buf.Bytes()
}

func writeGzip(t *testing.T, fname string, data []byte) {
	f, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadImages(t *testing.T) {
	images, err := ReadImages(bytes.NewReader(idxImages(2, 2, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if images.Count != 2 || images.Rows != 2 || images.Cols != 3 {
		t.Errorf("Wrong dimensions: %d x %d x %d", images.Count, images.Rows, images.Cols)
	}
	if len(images.Data) != 12 {
		t.Fatalf("Expected 12 pixels, but got %d", len(images.Data))
	}
	if images.Data[0] != 0 || images.Data[11] != 11.0/255.0 {
		t.Errorf("Pixels are not scaled properly: %v", images.Data)
	}
}

func TestReadBadMagic(t *testing.T) {
	if _, err := ReadImages(bytes.NewReader(idxLabels([]byte{1, 2}))); err == nil {
		t.Error("Labels file must not be parsed as images")
	}
	if _, err := ReadLabels(bytes.NewReader(idxImages(1, 1, 1))); err == nil {
		t.Error("Images file must not be parsed as labels")
	}
}

func TestReadTruncated(t *testing.T) {
	data := idxImages(3, 2, 2)
	if _, err := ReadImages(bytes.NewReader(data[:len(data)-1])); err == nil {
		t.Error("Truncated file must fail")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	trainLabels := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	writeGzip(t, filepath.Join(dir, TrainImagesFile), idxImages(10, 2, 2))
	writeGzip(t, filepath.Join(dir, TrainLabelsFile), idxLabels(trainLabels))
	writeGzip(t, filepath.Join(dir, TestImagesFile), idxImages(4, 2, 2))
	writeGzip(t, filepath.Join(dir, TestLabelsFile), idxLabels([]byte{3, 2, 1, 0}))

	ds, err := Load(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Train.Len() != 7 || ds.Dev.Len() != 3 || ds.Test.Len() != 4 {
		t.Fatalf("Wrong split sizes: %d, %d, %d", ds.Train.Len(), ds.Dev.Len(), ds.Test.Len())
	}
	if ds.Dev.Labels[0] != 7 {
		t.Errorf("Dev split must start with 8th training image, but got label %d", ds.Dev.Labels[0])
	}
	if ds.Dev.Image(0)[0] != 28.0/255.0 {
		t.Errorf("Wrong first pixel of dev split: %f", ds.Dev.Image(0)[0])
	}
	batches := ds.Test.Batches(3)
	if len(batches) != 1 {
		t.Fatalf("Incomplete batch must be dropped, but got %d batches", len(batches))
	}
	if batches[0].Shape()[0] != 3 || batches[0].Shape()[1] != 4 {
		t.Errorf("Wrong batch shape %v", batches[0].Shape())
	}
	rows, cols := ds.Test.Matrix().Dims()
	if rows != 4 || cols != 4 {
		t.Errorf("Wrong matrix dimensions %d x %d", rows, cols)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir(), 0); err == nil {
		t.Error("Loading from empty directory must fail")
	}
}

func TestStream(t *testing.T) {
	split := &Split{Features: 1, Images: []float64{0, 1, 2, 3, 4, 5}, Labels: []int{0, 1, 2, 3, 4, 5}}
	stream := split.Stream(2, 42)
	seen := map[int]int{}
	for epoch := 0; epoch < 2; epoch++ {
		for b := 0; b < 3; b++ {
			images, labels := stream.Next()
			if images.Shape()[0] != 2 || len(labels) != 2 {
				t.Fatalf("Wrong batch size: %v, %d", images.Shape(), len(labels))
			}
			data := images.Data().([]float64)
			for i, label := range labels {
				if data[i] != float64(label) {
					t.Errorf("Image %f doesn't match label %d", data[i], label)
				}
				seen[label]++
			}
		}
	}
	for label := 0; label < 6; label++ {
		if seen[label] != 2 {
			t.Errorf("Label %d seen %d times in two epochs", label, seen[label])
		}
	}
}

func TestStreamReseed(t *testing.T) {
	images := make([]float64, 20)
	labels := make([]int, 20)
	for i := range images {
		images[i] = float64(i)
		labels[i] = i % 10
	}
	split := &Split{Features: 1, Images: images, Labels: labels}
	order := func(s *Stream, batches int) []float64 {
		out := []float64{}
		for b := 0; b < batches; b++ {
			batch, _ := s.Next()
			out = append(out, batch.Data().([]float64)...)
		}
		return out
	}

	fresh := order(split.Stream(4, 7), 5)
	continued := split.Stream(4, 1)
	order(continued, 3)
	continued.Reseed(7)
	got := order(continued, 5)
	for i := range fresh {
		if got[i] != fresh[i] {
			t.Fatalf("Reseeded stream must repeat fresh stream: expected %v, but got %v", fresh, got)
		}
	}

	other := order(split.Stream(4, 8), 5)
	same := true
	for i := range fresh {
		if other[i] != fresh[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Streams with different seeds produce the same order")
	}
}
