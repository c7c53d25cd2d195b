package config

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// FullReader resolves config source names and reads whole sources.
type FullReader interface {
	Normalize(name string) string
	// ReadAll returns nil,nil when source does not exist.
	ReadAll(name string) ([]byte, error)
}

// OsFullReader reads files. Relative names resolve against base,
// Read sets base to directory of the first file.
type OsFullReader struct {
	base string
}

func NewOsFullReader() *OsFullReader { return &OsFullReader{} }

func (self *OsFullReader) SetBase(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Annotatef(err, "config base dir=%s", dir)
	}
	self.base = abs
	return nil
}

func (self *OsFullReader) Normalize(name string) string {
	if !filepath.IsAbs(name) {
		name = filepath.Join(self.base, name)
	}
	return filepath.Clean(name)
}

func (*OsFullReader) ReadAll(name string) ([]byte, error) {
	b, err := os.ReadFile(name)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, errors.Annotatef(err, "config read %s", name)
}

// MockFullReader serves sources from Map and records read order in Seen.
type MockFullReader struct {
	Map  map[string]string
	Seen []string
}

func NewMockFullReader(sources map[string]string) *MockFullReader {
	return &MockFullReader{Map: sources}
}

func (self *MockFullReader) Normalize(name string) string { return filepath.Clean(name) }

func (self *MockFullReader) ReadAll(name string) ([]byte, error) {
	self.Seen = append(self.Seen, name)
	s, ok := self.Map[name]
	if !ok {
		return nil, nil
	}
	return []byte(s), nil
}
