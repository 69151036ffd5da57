package response

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// FileBuilder serves the contents of a file on disk.
//
// The file is read on the first successful Build and cached for the
// lifetime of the builder. A failed read is retried on the next Build.
type FileBuilder struct {
	path        string
	contentType string
	raw         bool

	mu      sync.Mutex
	payload []byte
}

// File returns a builder that frames the file at path as a 200 response.
// An empty contentType is inferred from the file extension.
func File(path, contentType string) *FileBuilder {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	return &FileBuilder{path: path, contentType: contentType}
}

// Raw makes the builder write the file bytes without HTTP framing.
func (b *FileBuilder) Raw() *FileBuilder {
	b.raw = true
	return b
}

// Build implements Builder.
func (b *FileBuilder) Build(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.payload != nil {
		return b.payload, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("response: read %s: %w", b.path, err)
	}
	if b.raw {
		b.payload = data
	} else {
		b.payload = Frame(http.StatusOK, b.contentType, data)
	}
	return b.payload, nil
}
