package sinkrt

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

// Algorithm names one of the supported sink wire-payload compressors,
// applied to an already-encoded batch before it reaches Transport.Send.
type Algorithm string

const (
	AlgorithmNone   Algorithm = ""
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmSnappy Algorithm = "snappy"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmZstd   Algorithm = "zstd"
)

// Compress compresses one byte buffer with algo; AlgorithmNone returns data
// unchanged. No sink runtime or transport in this module calls it.
func Compress(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return data, nil
	case AlgorithmGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, apperr.SinkIO("sinkrt", "compress_gzip", "gzip write failed").Wrap(err)
		}
		if err := w.Close(); err != nil {
			return nil, apperr.SinkIO("sinkrt", "compress_gzip", "gzip close failed").Wrap(err)
		}
		return buf.Bytes(), nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, apperr.SinkIO("sinkrt", "compress_lz4", "lz4 write failed").Wrap(err)
		}
		if err := w.Close(); err != nil {
			return nil, apperr.SinkIO("sinkrt", "compress_lz4", "lz4 close failed").Wrap(err)
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, apperr.SinkIO("sinkrt", "compress_zstd", "zstd writer init failed").Wrap(err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, apperr.Compile("sinkrt", "compress", "unknown compression algorithm "+string(algo))
	}
}

// Decompress reverses Compress. No command or sink in this module calls it.
func Decompress(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return data, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, apperr.MalformedCompound("sinkrt", "decompress_gzip", "invalid gzip stream").Wrap(err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, apperr.MalformedCompound("sinkrt", "decompress_snappy", "invalid snappy stream").Wrap(err)
		}
		return out, nil
	case AlgorithmLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	case AlgorithmZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, apperr.MalformedCompound("sinkrt", "decompress_zstd", "zstd reader init failed").Wrap(err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, apperr.Compile("sinkrt", "decompress", "unknown compression algorithm "+string(algo))
	}
}
