package helpers

import (
	"fmt"
	"image"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"frigate-reviewer-go/internal/config"
)

// IsJPEGData checks if the byte slice contains JPEG data by checking magic bytes
func IsJPEGData(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	// JPEG magic bytes: FF D8
	return data[0] == 0xFF && data[1] == 0xD8
}

// NewSnapshotPreparer returns a function that validates snapshot bytes and,
// when they exceed the configured dimensions, downscales and re-encodes them
// before they are shipped to the detector. Keeps inference payloads bounded
// on cameras that produce large snapshots.
func NewSnapshotPreparer(cfg *config.Config) func([]byte) ([]byte, error) {
	maxW := cfg.MaxSnapshotWidth
	maxH := cfg.MaxSnapshotHeight
	quality := cfg.SnapshotQuality

	return func(data []byte) ([]byte, error) {
		if len(data) == 0 {
			return nil, fmt.Errorf("empty snapshot data")
		}
		if !IsJPEGData(data) {
			return nil, fmt.Errorf("snapshot is not JPEG data")
		}

		mat, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		defer mat.Close()

		if mat.Empty() {
			return nil, fmt.Errorf("snapshot decoded to empty image")
		}

		width := mat.Cols()
		height := mat.Rows()
		if width <= maxW && height <= maxH {
			return data, nil
		}

		// Fit inside max dimensions keeping aspect ratio
		scale := float64(maxW) / float64(width)
		if s := float64(maxH) / float64(height); s < scale {
			scale = s
		}

		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Point{}, scale, scale, gocv.InterpolationArea)

		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, resized, []int{gocv.IMWriteJpegQuality, quality})
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode snapshot: %w", err)
		}
		defer buf.Close()

		out := make([]byte, len(buf.GetBytes()))
		copy(out, buf.GetBytes())

		log.Debug().
			Int("original_width", width).
			Int("original_height", height).
			Int("original_bytes", len(data)).
			Int("prepared_bytes", len(out)).
			Msg("Snapshot downscaled for inference")

		return out, nil
	}
}
