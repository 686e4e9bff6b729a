package image

import (
	"fmt"

	"gocv.io/x/gocv"
)

// EncodePNG encodes m as PNG and returns bytes owned by the Go heap, so the
// result can outlive every OpenCV buffer.
func EncodePNG(m gocv.Mat) ([]byte, error) {
	if m.Empty() {
		return nil, fmt.Errorf("encode png: empty mat")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()

	native := buf.GetBytes()
	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}
