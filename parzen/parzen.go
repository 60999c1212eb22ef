// Package parzen estimates log-likelihood of data under isotropic Gaussian Parzen window
// fitted on generated samples
package parzen

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Window Gaussian kernel density estimator with kernel centered at every sample
type Window struct {
	samples *mat.Dense
	sigma   float64
}

// New Returns estimator for samples of shape (n, d)
func New(samples *mat.Dense, sigma float64) (*Window, error) {
	if samples == nil {
		return nil, fmt.Errorf("Samples are nil")
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("Sigma must be positive, but got %f", sigma)
	}
	return &Window{samples: samples, sigma: sigma}, nil
}

// Sigma Returns kernel width
func (w *Window) Sigma() float64 {
	return w.sigma
}

// LogLikelihood Returns log density for every row of x
//
// log p(x) = logsumexp_i(-||x - mu_i||^2 / (2*sigma^2)) - log(n) - d*log(sigma*sqrt(2*pi))
//
func (w *Window) LogLikelihood(x *mat.Dense) []float64 {
	n, d := w.samples.Dims()
	rows, _ := x.Dims()
	norm := math.Log(float64(n)) + float64(d)*math.Log(w.sigma*math.Sqrt(2*math.Pi))
	twoSigmaSq := 2 * w.sigma * w.sigma

	out := make([]float64, rows)
	exponents := make([]float64, n)
	diff := make([]float64, d)
	for r := 0; r < rows; r++ {
		xr := x.RawRowView(r)
		for i := 0; i < n; i++ {
			floats.SubTo(diff, xr, w.samples.RawRowView(i))
			exponents[i] = -floats.Dot(diff, diff) / twoSigmaSq
		}
		out[r] = floats.LogSumExp(exponents) - norm
	}
	return out
}

// Evaluate Returns mean and standard deviation of log-likelihood over rows of data evaluated batch by batch
func Evaluate(data *mat.Dense, w *Window, batchSize int) (float64, float64) {
	rows, cols := data.Dims()
	if batchSize < 1 {
		batchSize = rows
	}
	lls := make([]float64, 0, rows)
	for start := 0; start < rows; start += batchSize {
		end := start + batchSize
		if end > rows {
			end = rows
		}
		batch := data.Slice(start, end, 0, cols).(*mat.Dense)
		lls = append(lls, w.LogLikelihood(batch)...)
	}
	return stat.MeanStdDev(lls, nil)
}

// CrossValidateSigma Returns sigma giving highest mean log-likelihood of data
func CrossValidateSigma(samples, data *mat.Dense, sigmas []float64, batchSize int) float64 {
	best, bestLL := math.NaN(), math.Inf(-1)
	for _, sigma := range sigmas {
		w, err := New(samples, sigma)
		if err != nil {
			continue
		}
		ll, _ := Evaluate(data, w, batchSize)
		if ll > bestLL || math.IsNaN(best) {
			best, bestLL = sigma, ll
		}
	}
	return best
}
