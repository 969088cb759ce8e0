// Package compression provides the zstd streams used by object archives.
package compression

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compression levels accepted by NewWriter.
const (
	LevelFastest = 1
	LevelDefault = 2
	LevelBetter  = 3
)

func encoderLevel(level int) zstd.EncoderLevel {
	switch level {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedDefault
	}
}

// NewWriter returns a zstd stream writing to w. Close flushes the final
// frame; it does not close w.
func NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(encoderLevel(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	return enc, nil
}

// NewReader returns a decompressing reader over r. Close releases the
// decoder; it does not close r.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd decoder")
	}
	return &decoder{dec}, nil
}

type decoder struct {
	*zstd.Decoder
}

func (d *decoder) Close() error {
	d.Decoder.Close()
	return nil
}
