package artifact

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// Content-Encoding tokens, most preferred first.
const (
	EncodingBrotli = "br"
	EncodingZstd   = "zstd"
	EncodingGzip   = "gzip"
)

// Encodings lists the precompressed variants in preference order.
var Encodings = []string{EncodingBrotli, EncodingZstd, EncodingGzip}

// brotli's upper levels take minutes on large game binaries.
const brotliLevel = 5

// Compress produces every variant of data in parallel.
func Compress(data []byte, gzipLevel int) (map[string][]byte, error) {
	encoders := map[string]func([]byte) ([]byte, error){
		EncodingGzip:   func(b []byte) ([]byte, error) { return compressGzip(b, gzipLevel) },
		EncodingZstd:   compressZstd,
		EncodingBrotli: compressBrotli,
	}

	results := make([][]byte, len(Encodings))
	var g errgroup.Group
	for i, enc := range Encodings {
		encode := encoders[enc]
		g.Go(func() error {
			out, err := encode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", enc, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	variants := make(map[string][]byte, len(Encodings))
	for i, enc := range Encodings {
		variants[enc] = results[i]
	}
	return variants, nil
}

func compressGzip(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/3)), nil
}

func compressBrotli(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotliLevel)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Negotiate picks the most preferred encoding in available that the
// Accept-Encoding header allows. It returns "" when only identity fits.
func Negotiate(acceptEncoding string, available map[string][]byte) string {
	accepted := make(map[string]float64)
	wildcard := -1.0
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := 1.0
		if key, value, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(key) == "q" {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				continue
			}
			q = parsed
		}
		if name == "*" {
			wildcard = q
			continue
		}
		accepted[name] = q
	}

	for _, enc := range Encodings {
		if _, ok := available[enc]; !ok {
			continue
		}
		q, ok := accepted[enc]
		if !ok {
			q = wildcard
		}
		if q > 0 {
			return enc
		}
	}
	return ""
}
