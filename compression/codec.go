package compression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type (
	// Codec compresses the payload of one block. Every part declares exactly
	// one default codec, written to default_compression_codec.txt.
	Codec interface {
		Method() byte
		// Description is the canonical descriptor, e.g. `CODEC(ZSTD(1))`
		Description() string
		Compress(dst, src []byte) ([]byte, error)
		Decompress(dst, src []byte, rawSize int) ([]byte, error)
	}

	noneCodec   struct{}
	lz4Codec    struct{}
	snappyCodec struct{}
	zstdCodec   struct {
		level   int
		encoder *zstd.Encoder
		decoder *zstd.Decoder
	}
)

const (
	MethodNone   byte = 0x02
	MethodLZ4    byte = 0x82
	MethodZSTD   byte = 0x90
	MethodSnappy byte = 0x94
)

var (
	ErrUnknownCodec  = errors.New("unknown compression codec")
	ErrUnknownMethod = errors.New("unknown compression method")
	ErrCorruptBlock  = errors.New("corrupt compressed block")
)

func None() Codec { return noneCodec{} }

func LZ4() Codec { return lz4Codec{} }

func Snappy() Codec { return snappyCodec{} }

func ZSTD(level int) (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("error in zstd.NewWriter: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("error in zstd.NewReader: %w", err)
	}
	return &zstdCodec{level: level, encoder: enc, decoder: dec}, nil
}

// ParseCodec accepts `CODEC(LZ4)`, `LZ4`, `ZSTD(3)`, `ZSTD`, `NONE`, `Snappy`
func ParseCodec(desc string) (Codec, error) {
	d := strings.TrimSpace(desc)
	if strings.HasPrefix(d, "CODEC(") && strings.HasSuffix(d, ")") {
		d = d[len("CODEC(") : len(d)-1]
	}
	name, arg := d, ""
	if i := strings.IndexByte(d, '('); i >= 0 && strings.HasSuffix(d, ")") {
		name, arg = d[:i], d[i+1:len(d)-1]
	}
	switch strings.ToUpper(name) {
	case "NONE":
		return None(), nil
	case "LZ4":
		return LZ4(), nil
	case "SNAPPY":
		return Snappy(), nil
	case "ZSTD":
		level := 1
		if arg != "" {
			l, err := strconv.Atoi(arg)
			if err != nil {
				return nil, fmt.Errorf("%w: bad ZSTD level in %q", ErrUnknownCodec, desc)
			}
			level = l
		}
		return ZSTD(level)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, desc)
}

// ByMethod returns a codec able to decompress blocks tagged with method
func ByMethod(method byte) (Codec, error) {
	switch method {
	case MethodNone:
		return None(), nil
	case MethodLZ4:
		return LZ4(), nil
	case MethodSnappy:
		return Snappy(), nil
	case MethodZSTD:
		return ZSTD(1)
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrUnknownMethod, method)
}

func (noneCodec) Method() byte        { return MethodNone }
func (noneCodec) Description() string { return "CODEC(NONE)" }

func (noneCodec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

func (noneCodec) Decompress(dst, src []byte, rawSize int) ([]byte, error) {
	if len(src) != rawSize {
		return nil, fmt.Errorf("%w: NONE block of %d bytes declares %d", ErrCorruptBlock, len(src), rawSize)
	}
	return append(dst, src...), nil
}

func (lz4Codec) Method() byte        { return MethodLZ4 }
func (lz4Codec) Description() string { return "CODEC(LZ4)" }

func (lz4Codec) Compress(dst, src []byte) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, lz4.CompressBlockBound(len(src)))...)
	n, err := lz4.CompressBlock(src, dst[start:], nil)
	if err != nil {
		return nil, fmt.Errorf("error in lz4.CompressBlock: %w", err)
	}
	return dst[:start+n], nil
}

func (lz4Codec) Decompress(dst, src []byte, rawSize int) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, rawSize)...)
	n, err := lz4.UncompressBlock(src, dst[start:])
	if err != nil {
		return nil, fmt.Errorf("error in lz4.UncompressBlock: %w", err)
	}
	if n != rawSize {
		return nil, fmt.Errorf("%w: LZ4 block decoded to %d bytes, want %d", ErrCorruptBlock, n, rawSize)
	}
	return dst, nil
}

func (snappyCodec) Method() byte        { return MethodSnappy }
func (snappyCodec) Description() string { return "CODEC(Snappy)" }

func (snappyCodec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, snappy.Encode(nil, src)...), nil
}

func (snappyCodec) Decompress(dst, src []byte, rawSize int) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("error in snappy.Decode: %w", err)
	}
	if len(out) != rawSize {
		return nil, fmt.Errorf("%w: Snappy block decoded to %d bytes, want %d", ErrCorruptBlock, len(out), rawSize)
	}
	return append(dst, out...), nil
}

func (z *zstdCodec) Method() byte { return MethodZSTD }

func (z *zstdCodec) Description() string {
	return fmt.Sprintf("CODEC(ZSTD(%d))", z.level)
}

func (z *zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, dst), nil
}

func (z *zstdCodec) Decompress(dst, src []byte, rawSize int) ([]byte, error) {
	start := len(dst)
	out, err := z.decoder.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("error in zstd DecodeAll: %w", err)
	}
	if len(out)-start != rawSize {
		return nil, fmt.Errorf("%w: ZSTD block decoded to %d bytes, want %d", ErrCorruptBlock, len(out)-start, rawSize)
	}
	return out, nil
}
