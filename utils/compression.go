package utils

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionAlgorithm defines supported compression methods
type CompressionAlgorithm string

const (
	CompressionNone   CompressionAlgorithm = "none"
	CompressionGzip   CompressionAlgorithm = "gzip"
	CompressionBrotli CompressionAlgorithm = "br"
)

// Payloads below this size are stored as-is.
const minCompressSize = 512

// CompressData compresses data using the specified algorithm
func CompressData(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	switch algorithm {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}

	case CompressionBrotli:
		writer := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write to brotli writer: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close brotli writer: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	return buf.Bytes(), nil
}

// DecompressData decompresses data using the specified algorithm
func DecompressData(compressed []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(compressed) == 0 {
		return compressed, nil
	}

	switch algorithm {
	case CompressionNone:
		return compressed, nil

	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read from gzip reader: %w", err)
		}
		return data, nil

	case CompressionBrotli:
		data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return nil, fmt.Errorf("failed to read from brotli reader: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// GetBestCompression chooses brotli for anything worth compressing
func GetBestCompression(data []byte) CompressionAlgorithm {
	if len(data) < minCompressSize {
		return CompressionNone
	}
	return CompressionBrotli
}

// Pack compresses data and prefixes the algorithm so Unpack can reverse it.
func Pack(data []byte) ([]byte, error) {
	algorithm := GetBestCompression(data)
	compressed, err := CompressData(data, algorithm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(compressed)+len(algorithm)+1)
	out = append(out, algorithm...)
	out = append(out, ':')
	return append(out, compressed...), nil
}

// Unpack reverses Pack.
func Unpack(packed []byte) ([]byte, error) {
	i := bytes.IndexByte(packed, ':')
	if i <= 0 {
		return nil, fmt.Errorf("missing compression header")
	}
	return DecompressData(packed[i+1:], CompressionAlgorithm(packed[:i]))
}
