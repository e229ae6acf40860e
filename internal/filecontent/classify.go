package filecontent

import (
	"bufio"
	"io"
	"os"
	"unicode/utf8"
)

// Classification is the text/binary decision for a source file. It is
// computed once, when a FileContent is constructed, and never revisited
// even if the file changes afterwards.
type Classification int

const (
	Text Classification = iota
	Binary
)

func (c Classification) String() string {
	if c == Text {
		return "text"
	}
	return "binary"
}

// Classify sniffs the first runes of r and decides whether the content
// should be treated as text. The heuristic is deliberately weak and biased
// toward Binary: the first three runes must decode as UTF-8 and the first
// two must both be in [A-Za-z0-9_.-]. Anything else, including a short or
// unreadable source, is Binary, because skipping line filters on a text
// file is cheaper than corrupting binary content with text operations.
func Classify(r io.Reader) Classification {
	br := bufio.NewReaderSize(r, 16)

	var first [3]rune
	for i := range first {
		ch, size, err := br.ReadRune()
		if err != nil {
			return Binary
		}
		if ch == utf8.RuneError && size == 1 {
			// invalid UTF-8 byte
			return Binary
		}
		first[i] = ch
	}

	if wordRune(first[0]) && wordRune(first[1]) {
		return Text
	}
	return Binary
}

func wordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	}
	return false
}

// classifyFile opens path and classifies its leading bytes. Any open or
// read failure classifies as Binary rather than surfacing an error.
func classifyFile(path string) Classification {
	f, err := os.Open(path)
	if err != nil {
		return Binary
	}
	defer f.Close()
	return Classify(f)
}
