// Package quickxorhash implements QuickXorHash, the content hash OneDrive
// reports for files in file.hashes.quickXorHash.
//
// Every input byte is XORed into a 160-bit circular buffer at a bit offset
// that advances by 11 per byte. The digest is that buffer with the total
// input length (little-endian) XORed into its last 8 bytes.
//
// Reference: https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
)

type digest struct {
	buf    [Size]byte
	offset int // bit offset of the next input byte
	length uint64
}

// New returns a new hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// Write absorbs p into the hash. It never fails.
func (d *digest) Write(p []byte) (int, error) {
	for _, b := range p {
		idx, bit := d.offset/8, uint(d.offset%8)

		// A byte at bit 1..7 spills into the next buffer byte, which for
		// the last byte wraps to the first.
		v := uint16(b) << bit
		d.buf[idx] ^= byte(v)
		d.buf[(idx+1)%Size] ^= byte(v >> 8)

		d.offset = (d.offset + shift) % widthInBits
	}

	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the digest to b without changing the hash state.
func (d *digest) Sum(b []byte) []byte {
	out := d.buf

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], d.length)

	for i := range n {
		out[Size-len(n)+i] ^= n[i]
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }

// Encode renders a digest the way the Graph API does (standard base64).
func Encode(h hash.Hash) string {
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
