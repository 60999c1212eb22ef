package gan_inv

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// GridShape Returns (rows, columns) for n images: rows is the largest divisor of n not exceeding sqrt(n)
func GridShape(n int) (int, int) {
	if n < 1 {
		return 0, 0
	}
	rows := int(math.Sqrt(float64(n)))
	for n%rows != 0 {
		rows--
	}
	return rows, n / rows
}

// GridImage Arranges images into single grayscale picture
//
// samples - (n, h*w) values in [0, 1]
//
func GridImage(samples *tensor.Dense, h, w int) (*image.Gray, error) {
	if samples.Dims() != 2 || samples.Shape()[1] != h*w {
		return nil, fmt.Errorf("Samples must have shape (n, %d), but got %v", h*w, samples.Shape())
	}
	n := samples.Shape()[0]
	rows, cols := GridShape(n)
	data, ok := samples.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Samples must be float64, but got %v", samples.Dtype())
	}
	img := image.NewGray(image.Rect(0, 0, cols*w, rows*h))
	for k := 0; k < n; k++ {
		r, c := k/cols, k%cols
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(c*w+x, r*h+y, color.Gray{Y: toPixel(data[k*h*w+y*w+x])})
			}
		}
	}
	return img, nil
}

func toPixel(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(255.99 * v)
}

// SaveImages Writes image grid of MNIST-sized samples into PNG file
func SaveImages(samples *tensor.Dense, fname string) error {
	img, err := GridImage(samples, ImageHeight, ImageWidth)
	if err != nil {
		return errors.Wrap(err, "Can't arrange samples")
	}
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return errors.Wrap(err, "Can't create directory for samples")
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create image file")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't encode image")
	}
	return f.Close()
}
