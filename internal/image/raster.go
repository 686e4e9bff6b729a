// Package image loads photographs into immutable raster buffers for the
// comparison pipeline.
package image

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// Raster is a decoded 8-bit BGR pixel buffer. It is immutable once built:
// Mat returns the underlying buffer for reading and callers must not write
// to it. The owner releases it with Close.
type Raster struct {
	Source string // Where the pixels came from (path or URL), informational only

	mat gocv.Mat
}

// FromMat wraps m in a Raster, taking ownership of it. Gray and BGRA inputs
// are converted to 3-channel BGR; m is closed in that case.
func FromMat(m gocv.Mat, source string) (*Raster, error) {
	if m.Empty() {
		m.Close()
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("empty pixel buffer")}
	}

	switch m.Channels() {
	case 3:
		return &Raster{Source: source, mat: m}, nil
	case 1, 4:
		code := gocv.ColorGrayToBGR
		if m.Channels() == 4 {
			code = gocv.ColorBGRAToBGR
		}
		bgr := gocv.NewMat()
		gocv.CvtColor(m, &bgr, code)
		m.Close()
		return &Raster{Source: source, mat: bgr}, nil
	default:
		n := m.Channels()
		m.Close()
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("unsupported channel count %d", n)}
	}
}

// FromImage copies a Go image into a new BGR Raster.
func FromImage(img image.Image, source string) (*Raster, error) {
	if img == nil {
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("nil image")}
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("empty image bounds %v", bounds)}
	}
	m, err := imageToMat(img)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	return &Raster{Source: source, mat: m}, nil
}

// Width returns the image width in pixels.
func (r *Raster) Width() int { return r.mat.Cols() }

// Height returns the image height in pixels.
func (r *Raster) Height() int { return r.mat.Rows() }

// Channels returns the channel count (always 3 for a loaded Raster).
func (r *Raster) Channels() int { return r.mat.Channels() }

// Mat returns the pixel buffer. It is shared, not copied.
func (r *Raster) Mat() gocv.Mat { return r.mat }

// Clone returns an independent copy the caller owns.
func (r *Raster) Clone() *Raster {
	return &Raster{Source: r.Source, mat: r.mat.Clone()}
}

// Close releases the pixel buffer. It is safe to call on a nil Raster.
func (r *Raster) Close() error {
	if r == nil {
		return nil
	}
	return r.mat.Close()
}

// imageToMat converts an image.Image to a BGR Mat, filling horizontal
// stripes in parallel.
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	buf := make([]byte, width*height*3)

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		if startY >= height {
			break
		}
		endY := min(startY+rowsPerWorker, height)

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				row := buf[y*width*3 : (y+1)*width*3]
				for x := 0; x < width; x++ {
					r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
					row[x*3+0] = uint8(b >> 8)
					row[x*3+1] = uint8(g >> 8)
					row[x*3+2] = uint8(r >> 8)
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	// The view borrows buf; clone so the Raster owns OpenCV memory.
	view, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("building %dx%d mat: %w", width, height, err)
	}
	defer view.Close()
	return view.Clone(), nil
}
