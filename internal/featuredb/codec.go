package featuredb

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Version is the current blob format version.
const Version uint16 = 1

var magic = [7]byte{'S', 'I', 'F', 'T', 'D', 'B', 0}

const headerSize = len(magic) + 2 + 1 + 4

var (
	// ErrBadFormat means the blob is not a feature database or is corrupt.
	ErrBadFormat = errors.New("featuredb: bad format")
	// ErrUnsupportedVersion means the blob was written by an incompatible build.
	ErrUnsupportedVersion = errors.New("featuredb: unsupported version")
)

// Codec is the payload compression.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a configuration value to a Codec. Empty selects zstd.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("featuredb: unknown codec %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compress(c Codec, raw []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return raw, nil
	case CodecZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("featuredb: unknown codec %d", uint8(c))
	}
}

// maxDecodedSize bounds the decompressed payload.
var maxDecodedSize int64 = 2 << 30

func decompress(c Codec, payload []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return payload, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		if err := dec.Reset(bytes.NewReader(payload)); err != nil {
			return nil, err
		}
		return readBounded(dec)
	case CodecLZ4:
		return readBounded(lz4.NewReader(bytes.NewReader(payload)))
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrBadFormat, uint8(c))
	}
}

func readBounded(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxDecodedSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrBadFormat, maxDecodedSize)
	}
	return raw, nil
}

// Encode writes db to w as a blob.
func Encode(w io.Writer, db *Database, c Codec) error {
	records := db.records
	if records == nil {
		records = []Record{}
	}
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(records); err != nil {
		return fmt.Errorf("featuredb: encode records: %w", err)
	}
	payload, err := compress(c, raw.Bytes())
	if err != nil {
		return fmt.Errorf("featuredb: compress: %w", err)
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("featuredb: payload too large (%d bytes)", len(payload))
	}

	hdr := make([]byte, headerSize)
	copy(hdr, magic[:])
	binary.LittleEndian.PutUint16(hdr[7:], Version)
	hdr[9] = byte(c)
	binary.LittleEndian.PutUint32(hdr[10:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Decode reads a blob written by Encode and validates every record.
func Decode(r io.Reader) (*Database, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrBadFormat, err)
	}
	if !bytes.Equal(hdr[:7], magic[:]) {
		return nil, fmt.Errorf("%w: not a feature database", ErrBadFormat)
	}
	if v := binary.LittleEndian.Uint16(hdr[7:]); v != Version {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrUnsupportedVersion, v, Version)
	}
	c := Codec(hdr[9])
	n := binary.LittleEndian.Uint32(hdr[10:])

	// the header length is untrusted; read what is there, then compare
	payload, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrBadFormat, err)
	}
	if uint32(len(payload)) != n {
		return nil, fmt.Errorf("%w: truncated payload: %d of %d bytes", ErrBadFormat, len(payload), n)
	}
	raw, err := decompress(c, payload)
	if err != nil {
		if errors.Is(err, ErrBadFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadFormat, err)
	}
	var records []Record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode records: %v", ErrBadFormat, err)
	}
	db, err := New(records)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFormat, err)
	}
	return db, nil
}
