// Package bundle packs assets into a single file that can be loaded without
// the project they came from.
//
// A bundle starts with a header and an offset table, followed by the
// records. All integers are little endian.
//
//	header   magic "SBDL" | version u16 | flags u16 | count u32
//	table    count x ( uuid [16] | offset u32 | rawLen u32 | flags u8 )
//	record   uuid [16] | type uuid [16] | length u32 | payload [length]
//
// Records can also be read in sequence without the table. A record whose
// table flags have the lz4 bit set holds an lz4 block that expands to
// rawLen bytes.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/blake2b"
)

var ErrBadBundle = errors.New("malformed asset bundle")

const (
	Version = 1

	headerSize       = 12
	entrySize        = 25
	recordHeaderSize = 36

	// flagLZ4 marks a compressed record payload.
	flagLZ4 = 1 << 0

	// maxExpansion bounds how much an lz4 block can grow when expanded.
	maxExpansion = 255
)

var magic = [4]byte{'S', 'B', 'D', 'L'}

// Record is one asset in a bundle.
type Record struct {
	ID   uuid.UUID
	Type uuid.UUID
	Data []byte
}

type entry struct {
	id     uuid.UUID
	offset uint32
	rawLen uint32
	flags  uint8
}

func (e *entry) marshal(b []byte) {
	copy(b[0:16], e.id[:])
	binary.LittleEndian.PutUint32(b[16:], e.offset)
	binary.LittleEndian.PutUint32(b[20:], e.rawLen)
	b[24] = e.flags
}

func (e *entry) unmarshal(b []byte) {
	e.id = uuid.UUID(b[0:16])
	e.offset = binary.LittleEndian.Uint32(b[16:])
	e.rawLen = binary.LittleEndian.Uint32(b[20:])
	e.flags = b[24]
}

func header(count int) []byte {
	b := make([]byte, headerSize)
	copy(b, magic[:])
	binary.LittleEndian.PutUint16(b[4:], Version)
	binary.LittleEndian.PutUint32(b[8:], uint32(count))
	return b
}

func parseHeader(b []byte) (int, error) {
	if [4]byte(b[0:4]) != magic {
		return 0, fmt.Errorf("%w: bad magic %q", ErrBadBundle, b[0:4])
	}

	if v := binary.LittleEndian.Uint16(b[4:]); v != Version {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrBadBundle, v)
	}

	return int(binary.LittleEndian.Uint32(b[8:])), nil
}

// compress returns the lz4 block of src, or false when compressing does
// not make it smaller.
func compress(src []byte) ([]byte, bool) {
	if len(src) == 0 {
		return src, false
	}

	var c lz4.Compressor

	dst := make([]byte, lz4.CompressBlockBound(len(src)))

	n, err := c.CompressBlock(src, dst)
	if err != nil || n == 0 || n >= len(src) {
		return src, false
	}

	return dst[:n], true
}

func decompress(src []byte, rawLen uint32) ([]byte, error) {
	if uint64(rawLen) > uint64(len(src))*maxExpansion+16 {
		return nil, fmt.Errorf("%w: record expands to %d bytes from %d", ErrBadBundle, rawLen, len(src))
	}

	dst := make([]byte, rawLen)

	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBundle, err)
	}

	if n != int(rawLen) {
		return nil, fmt.Errorf("%w: record expanded to %d bytes, want %d", ErrBadBundle, n, rawLen)
	}

	return dst, nil
}

// Digest identifies bundle content. Equal bundles have equal digests.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return base58.Encode(sum[:])
}
