package keywords

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed defaults/keywords.json
var bundledDocument []byte

// Source supplies the bundled default document
type Source interface {
	Name() string
	Read() ([]byte, error)
}

type bytesSource struct {
	name string
	data []byte
}

func (b bytesSource) Name() string          { return b.name }
func (b bytesSource) Read() ([]byte, error) { return b.data, nil }

// EmbeddedSource returns the document compiled into the binary
func EmbeddedSource() Source {
	return bytesSource{name: "embedded", data: bundledDocument}
}

// BytesSource wraps an in-memory document
func BytesSource(name string, data []byte) Source {
	return bytesSource{name: name, data: data}
}

type fileSource string

// FileSource reads the document from disk on every load
func FileSource(path string) Source {
	return fileSource(path)
}

func (f fileSource) Name() string { return string(f) }

func (f fileSource) Read() ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", string(f), err)
	}
	return data, nil
}
