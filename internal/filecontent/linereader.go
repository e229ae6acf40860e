package filecontent

import (
	"bufio"
	"io"
	"strings"
)

// LineReader reads lines from a text source under a total byte budget
// measured in UTF-8 encoded bytes. Line terminators are stripped and do
// not count against the budget. When a line would exceed the remaining
// budget it is cut at exactly the budget boundary, which may land inside
// a multi-byte code point; the truncated tail is returned as-is.
type LineReader struct {
	br *bufio.Reader
	n  int64
}

// NewLineReader returns a LineReader yielding at most limit encoded bytes
// of line content from r.
func NewLineReader(r io.Reader, limit int64) *LineReader {
	return &LineReader{br: bufio.NewReader(r), n: limit}
}

// ReadLine returns the next line without its terminator, or io.EOF once
// the budget or the source is exhausted. The final returned line may be a
// byte-level truncation of the source line.
func (l *LineReader) ReadLine() (string, error) {
	if l.n <= 0 {
		return "", io.EOF
	}

	line, err := readLine(l.br)
	if err != nil {
		return "", err
	}

	size := int64(len(line))
	if size <= l.n {
		l.n -= size
		return line, nil
	}

	line = line[:l.n]
	l.n = 0
	return line, nil
}

// readLine reads the next terminator-stripped line from br. It returns
// io.EOF only when no bytes remain; a final line without a trailing
// terminator is still returned. "\n", "\r\n", and a lone "\r" all
// terminate a line.
func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		switch b {
		case '\n':
			return sb.String(), nil
		case '\r':
			// consume the '\n' of a CRLF pair, keep anything else
			if next, err := br.ReadByte(); err == nil && next != '\n' {
				br.UnreadByte()
			}
			return sb.String(), nil
		default:
			sb.WriteByte(b)
		}
	}
}
