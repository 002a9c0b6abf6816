// Package denoise implements an optional frequency-domain Gaussian low-pass
// filter applied to individual slices before they are stacked.
package denoise

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Gaussian is a low-pass filter with standard deviation Sigma in pixels.
// A zero Sigma leaves data untouched.
type Gaussian struct {
	Sigma float64
}

// Apply filters a rows x cols row-major image and returns a new buffer.
// The DC component is preserved, so the mean intensity does not change.
func (g Gaussian) Apply(data []float64, rows, cols int) ([]float64, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("denoise: %d samples for %dx%d image", len(data), rows, cols)
	}
	if g.Sigma < 0 {
		return nil, fmt.Errorf("denoise: negative sigma %g", g.Sigma)
	}
	out := make([]float64, len(data))
	if g.Sigma == 0 {
		copy(out, data)
		return out, nil
	}

	spectrum := fft2D(data, rows, cols)

	rowGain := gaussianGain(rows, g.Sigma)
	colGain := gaussianGain(cols, g.Sigma)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			spectrum[y*cols+x] *= complex(rowGain[y]*colGain[x], 0)
		}
	}

	filtered := ifft2D(spectrum, rows, cols)
	for i, v := range filtered {
		out[i] = real(v)
	}
	return out, nil
}

// gaussianGain returns the transfer function of a Gaussian with standard
// deviation sigma samples at each of the n FFT frequency bins
func gaussianGain(n int, sigma float64) []float64 {
	gain := make([]float64, n)
	for k := 0; k < n; k++ {
		f := float64(k)
		if k > n/2 {
			f -= float64(n)
		}
		f /= float64(n)
		gain[k] = math.Exp(-2 * math.Pi * math.Pi * sigma * sigma * f * f)
	}
	return gain
}

// fft2D performs a 2D FFT as row transforms followed by column transforms
func fft2D(data []float64, rows, cols int) []complex128 {
	result := make([]complex128, rows*cols)
	for i, v := range data {
		result[i] = complex(v, 0)
	}
	transformRows(result, rows, cols, false)
	transformCols(result, rows, cols, false)
	return result
}

// ifft2D inverts fft2D, including the 1/(rows*cols) normalization that
// gonum's Sequence leaves to the caller
func ifft2D(spectrum []complex128, rows, cols int) []complex128 {
	result := make([]complex128, len(spectrum))
	copy(result, spectrum)
	transformRows(result, rows, cols, true)
	transformCols(result, rows, cols, true)
	scale := complex(1/float64(rows*cols), 0)
	for i := range result {
		result[i] *= scale
	}
	return result
}

func transformRows(data []complex128, rows, cols int, inverse bool) {
	fft := fourier.NewCmplxFFT(cols)
	buf := make([]complex128, cols)
	for y := 0; y < rows; y++ {
		row := data[y*cols : (y+1)*cols]
		if inverse {
			fft.Sequence(buf, row)
		} else {
			fft.Coefficients(buf, row)
		}
		copy(row, buf)
	}
}

func transformCols(data []complex128, rows, cols int, inverse bool) {
	fft := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	buf := make([]complex128, rows)
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			col[y] = data[y*cols+x]
		}
		if inverse {
			fft.Sequence(buf, col)
		} else {
			fft.Coefficients(buf, col)
		}
		for y := 0; y < rows; y++ {
			data[y*cols+x] = buf[y]
		}
	}
}
