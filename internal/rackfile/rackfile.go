// Package rackfile loads rack documents from disk and hands the discovery
// engine decompressed XML.
package rackfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MaxDecompressedSize caps the XML we are willing to inflate from one rack.
const MaxDecompressedSize = 256 << 20

// ErrSourceUnavailable is returned when the rack bytes cannot be read.
var ErrSourceUnavailable = errors.New("rack source unavailable")

// DecompressionError reports a rack file that is neither gzip nor plain XML,
// or whose gzip stream is corrupt.
type DecompressionError struct {
	Path string
	Err  error
}

func (e *DecompressionError) Error() string {
	return "Failed to decompress rack file - invalid gzip format"
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// Extensions recognized as rack documents by directory imports.
var Extensions = []string{".adg", ".xml"}

// IsRackFile reports whether the file name carries a rack extension.
func IsRackFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load reads the file at path and returns its XML text.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	data, err := Decompress(f)
	if err != nil {
		var de *DecompressionError
		if errors.As(err, &de) {
			de.Path = path
		}
		return nil, err
	}
	return data, nil
}

// Decompress inflates a gzip stream. Input that already looks like XML is
// returned unchanged. Either form is rejected once it exceeds
// MaxDecompressedSize.
func Decompress(r io.Reader) ([]byte, error) {
	return decompress(r, MaxDecompressedSize)
}

func decompress(r io.Reader, limit int) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if len(raw) > limit {
		return nil, &DecompressionError{Err: tooLarge(limit)}
	}

	if isGzip(raw) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, &DecompressionError{Err: err}
		}
		defer zr.Close()

		out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
		if err != nil {
			return nil, &DecompressionError{Err: err}
		}
		if len(out) > limit {
			return nil, &DecompressionError{Err: tooLarge(limit)}
		}
		return out, nil
	}

	if looksLikeXML(raw) {
		return raw, nil
	}
	return nil, &DecompressionError{Err: errors.New("missing gzip header")}
}

func tooLarge(limit int) error {
	return fmt.Errorf("rack exceeds %d bytes", limit)
}

// Compress gzips XML text. Used when writing rack fixtures.
func Compress(xml []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(xml); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func looksLikeXML(b []byte) bool {
	trimmed := bytes.TrimLeft(b, " \t\r\n\xef\xbb\xbf")
	return len(trimmed) > 0 && trimmed[0] == '<'
}
