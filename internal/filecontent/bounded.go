package filecontent

import (
	"io"
)

// BoundedReader decorates an io.Reader with a hard ceiling on the total
// number of bytes it will ever yield, independent of caller chunk sizes.
// The budget is decremented by bytes actually read, not bytes requested,
// so short reads from the underlying source never over-charge it.
type BoundedReader struct {
	r io.Reader
	n int64
}

// NewBounded returns a reader that yields at most limit bytes from r.
// A negative limit yields nothing.
func NewBounded(r io.Reader, limit int64) *BoundedReader {
	return &BoundedReader{r: r, n: limit}
}

// Remaining reports how many bytes of budget are left.
func (b *BoundedReader) Remaining() int64 {
	if b.n < 0 {
		return 0
	}
	return b.n
}

func (b *BoundedReader) Read(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.n {
		p = p[:b.n]
	}
	n, err := b.r.Read(p)
	b.n -= int64(n)
	return n, err
}

// ReadByte yields the next byte, charging one byte of budget.
func (b *BoundedReader) ReadByte() (byte, error) {
	var p [1]byte
	for {
		n, err := b.Read(p[:])
		if n > 0 {
			return p[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Skip discards up to n bytes, capped at the remaining budget, and
// reports how many were actually skipped.
func (b *BoundedReader) Skip(n int64) (int64, error) {
	if n > b.n {
		n = b.n
	}
	if n <= 0 {
		return 0, nil
	}
	skipped, err := io.CopyN(io.Discard, b.r, n)
	b.n -= skipped
	if err == io.EOF {
		err = nil
	}
	return skipped, err
}
