package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxBytes caps how much a single source may deliver.
const DefaultMaxBytes = 64 << 20

// DecodeError reports that a source could not be read or interpreted as a
// raster image. It is always fatal to a comparison.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decode interprets encoded bytes as a raster image. Go's registered decoders
// are tried first (jpeg, png, gif, bmp, tiff, webp); anything they reject is
// handed to OpenCV's codecs.
func Decode(data []byte, source string) (*Raster, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Source: source, Err: errors.New("no data")}
	}

	img, _, goErr := image.Decode(bytes.NewReader(data))
	if goErr == nil {
		return FromImage(img, source)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		mat.Close()
		return nil, &DecodeError{Source: source, Err: goErr}
	}
	return FromMat(mat, source)
}

// Loader fetches image sources (local paths or http(s) URLs) and decodes them.
type Loader struct {
	Client   *http.Client
	MaxBytes int64
	Logger   *zap.Logger
}

// NewLoader returns a Loader with an HTTP client bounded by timeout.
func NewLoader(timeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: DefaultMaxBytes,
		Logger:   logger,
	}
}

// Load fetches and decodes one source.
func (l *Loader) Load(ctx context.Context, source string) (*Raster, error) {
	start := time.Now()
	data, err := l.fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	r, err := Decode(data, source)
	if err != nil {
		return nil, err
	}
	l.logger().Debug("image loaded",
		zap.String("source", source),
		zap.Int("width", r.Width()),
		zap.Int("height", r.Height()),
		zap.Duration("elapsed", time.Since(start)))
	return r, nil
}

// LoadPair loads the origin and compared sources concurrently. Either both
// rasters are returned or neither is: on failure anything already decoded is
// released.
func (l *Loader) LoadPair(ctx context.Context, originSrc, comparedSrc string) (*Raster, *Raster, error) {
	var origin, compared *Raster

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := l.Load(gctx, originSrc)
		origin = r
		return err
	})
	g.Go(func() error {
		r, err := l.Load(gctx, comparedSrc)
		compared = r
		return err
	})

	if err := g.Wait(); err != nil {
		origin.Close()
		compared.Close()
		return nil, nil, err
	}
	return origin, compared, nil
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	if !isURL(source) {
		f, err := os.Open(source)
		if err != nil {
			return nil, &DecodeError{Source: source, Err: err}
		}
		defer f.Close()
		return readLimited(f, limit, source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return readLimited(resp.Body, limit, source)
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func readLimited(r io.Reader, limit int64, source string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("source exceeds %d bytes", limit)}
	}
	return data, nil
}

func isURL(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
