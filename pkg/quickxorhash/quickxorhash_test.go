package quickxorhash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}

	return out
}

func TestKnownDigests(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", nil, "AAAAAAAAAAAAAAAAAAAAAAAAAAA="},
		{"hello", []byte("hello"), "aCgDG9jwBgAAAAAABQAAAAAAAAA="},
		{"hello world", []byte("hello world"), "aCgDG9jwBhDc4Q1yawMZAAAAAAA="},
		{"zeros", make([]byte, 1000), "AAAAAAAAAAAAAAAA6AMAAAAAAAA="},
		{"ones", bytes.Repeat([]byte{0xFF}, 1000), "Yxvb2MY2trGNbWxj89jYOc5xjnM="},
		{"sequence", sequence(1024), "h7xr2dbCayZCQYR9KKhlwDuT4UI="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			_, err := h.Write(tt.input)
			require.NoError(t, err)

			assert.Equal(t, tt.want, Encode(h))
		})
	}
}

func TestChunkingDoesNotMatter(t *testing.T) {
	input := sequence(1024)

	whole := New()
	_, _ = whole.Write(input)

	chunked := New()
	for start, size := 0, 1; start < len(input); size = size*3 + 1 {
		end := min(start+size, len(input))
		_, _ = chunked.Write(input[start:end])
		start = end
	}

	assert.Equal(t, whole.Sum(nil), chunked.Sum(nil))

	byByte := New()
	for _, b := range input {
		_, _ = byByte.Write([]byte{b})
	}

	assert.Equal(t, whole.Sum(nil), byByte.Sum(nil))
}

func TestSumDoesNotChangeState(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("hello "))
	_ = h.Sum(nil)
	_, _ = h.Write([]byte("world"))

	assert.Equal(t, "aCgDG9jwBhDc4Q1yawMZAAAAAAA=", Encode(h))
}

func TestSumAppends(t *testing.T) {
	h := New()

	out := h.Sum([]byte{0xAB})
	require.Len(t, out, 1+Size)
	assert.Equal(t, byte(0xAB), out[0])
}

func TestReset(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("something else"))
	h.Reset()
	_, _ = h.Write([]byte("hello"))

	assert.Equal(t, "aCgDG9jwBgAAAAAABQAAAAAAAAA=", Encode(h))
	assert.Equal(t, Size, h.Size())
	assert.Equal(t, BlockSize, h.BlockSize())
}
