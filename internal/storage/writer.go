package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the codec used for rotated log files.
type Compression string

const (
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
	CompressionNone Compression = "none"
)

// ParseCompression validates a codec name.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case CompressionZstd, CompressionGzip, CompressionNone:
		return c, nil
	case "":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Ext returns the file extension the codec appends.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionGzip:
		return ".gz"
	default:
		return ""
	}
}

// CompressFile writes a compressed copy of path next to it, removes the
// original and returns the new path.
func CompressFile(path string, c Compression) (string, error) {
	if c == CompressionNone {
		return path, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	target := path + c.Ext()
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}

	if err := compressTo(dst, src, c); err != nil {
		dst.Close()
		os.Remove(target)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(target)
		return "", err
	}

	src.Close()
	if err := os.Remove(path); err != nil {
		return target, fmt.Errorf("remove %s after compression: %w", path, err)
	}
	return target, nil
}

func compressTo(dst io.Writer, src io.Reader, c Compression) error {
	var w io.WriteCloser
	switch c {
	case CompressionZstd:
		enc, err := zstd.NewWriter(dst)
		if err != nil {
			return err
		}
		w = enc
	case CompressionGzip:
		w = gzip.NewWriter(dst)
	default:
		return fmt.Errorf("unknown compression %q", c)
	}

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
