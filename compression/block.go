package compression

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is method byte + compressed size + raw size
const HeaderSize = 9

// AppendBlock frames raw as one compressed block: method | compressed uint32 | raw uint32 | payload.
// Empty and incompressible LZ4 payloads fall back to a NONE block.
func AppendBlock(dst []byte, codec Codec, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		codec = None()
	}
	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	method := codec.Method()
	out, err := codec.Compress(dst, raw)
	if err != nil {
		return nil, err
	}
	if len(out) == len(dst) && len(raw) > 0 {
		method = MethodNone
		out = append(dst, raw...)
	}
	out[start] = method
	binary.LittleEndian.PutUint32(out[start+1:], uint32(len(out)-start-HeaderSize))
	binary.LittleEndian.PutUint32(out[start+5:], uint32(len(raw)))
	return out, nil
}

// DecodeBlock reads one framed block from buf and returns the raw payload and
// the remaining bytes
func DecodeBlock(buf []byte) ([]byte, []byte, error) {
	if len(buf) < HeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrCorruptBlock, len(buf))
	}
	method := buf[0]
	compressed := int(binary.LittleEndian.Uint32(buf[1:]))
	rawSize := int(binary.LittleEndian.Uint32(buf[5:]))
	if len(buf) < HeaderSize+compressed {
		return nil, nil, fmt.Errorf("%w: payload of %d bytes truncated to %d", ErrCorruptBlock, compressed, len(buf)-HeaderSize)
	}
	codec, err := ByMethod(method)
	if err != nil {
		return nil, nil, err
	}
	raw, err := codec.Decompress(nil, buf[HeaderSize:HeaderSize+compressed], rawSize)
	if err != nil {
		return nil, nil, err
	}
	return raw, buf[HeaderSize+compressed:], nil
}
