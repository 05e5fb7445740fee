package bindump

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a group is stored. Codec values are format
// constants; changing them breaks compatibility.
type Codec uint8

const (
	// CodecNone stores the group as-is.
	CodecNone Codec = 0

	// CodecLZ4 is LZ4 block compression: cheap to decode, modest ratio.
	CodecLZ4 Codec = 1

	// CodecZstd is zstd at the default level, optionally with the dump's
	// shared dictionary (Version3 only).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec from its string representation.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none", "":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

func (c Codec) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *Codec) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseCodec(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// errIncompressible is returned when compression does not shrink the input.
// Callers fall back to CodecNone.
var errIncompressible = errors.New("data is incompressible")

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so the
// dictionary-less pair is shared by every dump in the process.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("bindump: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bindump: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with c. If the result would not be smaller than
// the input it returns the input unchanged with CodecNone.
func Compress(data []byte, c Codec) ([]byte, Codec, error) {
	return compress(data, c, zstdEncoder)
}

// Decompress reverses Compress; rawSize must match the original length.
func Decompress(stored []byte, c Codec, rawSize int) ([]byte, error) {
	return decompress(stored, c, rawSize, zstdDecoder)
}

func compress(data []byte, c Codec, enc *zstd.Encoder) ([]byte, Codec, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CodecNone:
		return data, CodecNone, nil
	case CodecLZ4:
		out, err = compressLZ4(data)
	case CodecZstd:
		out, err = compressZstd(data, enc)
	default:
		return nil, 0, fmt.Errorf("unsupported codec: %d", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CodecNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, c, nil
}

func decompress(stored []byte, c Codec, rawSize int, dec *zstd.Decoder) ([]byte, error) {
	switch c {
	case CodecNone:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("stored group: size %d does not match expected %d", len(stored), rawSize)
		}
		// Copy so the group never aliases the raw buffer.
		out := make([]byte, rawSize)
		copy(out, stored)
		return out, nil
	case CodecLZ4:
		return decompressLZ4(stored, rawSize)
	case CodecZstd:
		return decompressZstd(stored, rawSize, dec)
	default:
		return nil, fmt.Errorf("unsupported codec: %d", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(stored []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(stored, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != rawSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawSize)
	}
	return dst, nil
}

func compressZstd(data []byte, enc *zstd.Encoder) ([]byte, error) {
	out := enc.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decompressZstd(stored []byte, rawSize int, dec *zstd.Decoder) ([]byte, error) {
	out, err := dec.DecodeAll(stored, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != rawSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawSize)
	}
	return out, nil
}
