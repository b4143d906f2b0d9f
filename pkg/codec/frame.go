package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

var ErrEmptyFrame = errors.New("codec: empty frame")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack prefixes data with a one byte header. Payloads of at least threshold
// bytes are zstd-compressed when that makes them smaller. A threshold of 0
// disables compression.
func Pack(data []byte, threshold int) []byte {
	if threshold > 0 && len(data) >= threshold {
		compressed := zstdEncoder.EncodeAll(data, make([]byte, 1, len(data)/2+1))
		if len(compressed) < len(data)+1 {
			compressed[0] = frameZstd
			return compressed
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, frameRaw)
	return append(out, data...)
}

func Unpack(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameZstd:
		data, err := zstdDecoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("codec: unknown frame header 0x%02x", frame[0])
	}
}

// MarshalFramed is Marshal followed by Pack.
func MarshalFramed(v any, threshold int) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Pack(data, threshold), nil
}

func UnmarshalFramed(frame []byte, v any) error {
	data, err := Unpack(frame)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}
