package uart

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/juju/errors"
	"github.com/paulrosania/go-charset/charset"
	_ "github.com/paulrosania/go-charset/data" // charset tables
)

// MaxLineLength bounds buffered bytes without newline.
// Longer garbage is dropped, line assembly resumes after next newline.
const MaxLineLength = 256

// LineReader assembles newline terminated lines from arbitrary chunks.
// Lines are decoded lossy: optional charset translation to UTF-8,
// invalid UTF-8 dropped, surrounding whitespace and control chars stripped.
// Not safe for concurrent use.
type LineReader struct {
	buf      []byte
	tr       charset.Translator
	overflow bool
}

// NewLineReader with empty charsetName expects UTF-8 (ASCII) input.
func NewLineReader(charsetName string) (*LineReader, error) {
	self := &LineReader{buf: make([]byte, 0, MaxLineLength)}
	switch strings.ToLower(charsetName) {
	case "", "utf-8", "utf8", "ascii":
	default:
		tr, err := charset.TranslatorFrom(charsetName)
		if err != nil {
			return nil, errors.Annotatef(err, "charset=%s", charsetName)
		}
		self.tr = tr
	}
	return self, nil
}

// Feed appends p and returns completed non-empty lines in order.
func (self *LineReader) Feed(p []byte) []string {
	var lines []string
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			self.appendPart(p)
			break
		}
		self.appendPart(p[:i])
		p = p[i+1:]
		if self.overflow {
			self.overflow = false
			self.buf = self.buf[:0]
			continue
		}
		if line := self.decode(self.buf); line != "" {
			lines = append(lines, line)
		}
		self.buf = self.buf[:0]
	}
	return lines
}

// Reset drops partial line, used after reconnect and input flush.
func (self *LineReader) Reset() {
	self.buf = self.buf[:0]
	self.overflow = false
}

func (self *LineReader) appendPart(p []byte) {
	if self.overflow {
		return
	}
	if len(self.buf)+len(p) > MaxLineLength {
		self.overflow = true
		self.buf = self.buf[:0]
		return
	}
	self.buf = append(self.buf, p...)
}

func (self *LineReader) decode(b []byte) string {
	if self.tr != nil {
		if _, out, err := self.tr.Translate(b, true); err == nil {
			b = out
		}
	}
	s := strings.ToValidUTF8(string(b), "")
	return strings.TrimFunc(s, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) })
}
