package response

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	payload, err := Default().Build(context.Background())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	s := string(payload)
	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("missing status line: %q", s)
	}
	if !strings.Contains(s, "Content-Type: text/html\r\n") {
		t.Errorf("missing content type: %q", s)
	}
	if !strings.HasSuffix(s, DefaultBody) {
		t.Errorf("missing body: %q", s)
	}
}

func TestFrame(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
	}{
		{
			name:        "ok",
			status:      200,
			contentType: "text/plain",
			body:        "hi",
			want:        "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi",
		},
		{
			name:   "empty content type",
			status: 404,
			body:   "",
			want:   "HTTP/1.1 404 Not Found\r\nContent-Type: application/octet-stream\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		},
		{
			name:        "unknown status",
			status:      599,
			contentType: "text/plain",
			body:        "x",
			want:        "HTTP/1.1 599 Status 599\r\nContent-Type: text/plain\r\nContent-Length: 1\r\nConnection: close\r\n\r\nx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(Frame(tt.status, tt.contentType, []byte(tt.body)))
			if got != tt.want {
				t.Errorf("Frame() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatic_CopiesPayload(t *testing.T) {
	src := []byte("raw bytes")
	b := Static(src)
	src[0] = 'X'

	got, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if string(got) != "raw bytes" {
		t.Errorf("Build() = %q, want raw bytes", got)
	}
}

func TestBuilderFunc(t *testing.T) {
	wantErr := errors.New("boom")
	b := BuilderFunc(func(context.Context) ([]byte, error) { return nil, wantErr })
	if _, err := b.Build(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<h1>hi</h1>"), 0644); err != nil {
		t.Fatal(err)
	}

	b := File(path, "")
	got, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if !bytes.HasSuffix(got, []byte("<h1>hi</h1>")) {
		t.Errorf("body missing: %q", got)
	}
	if !bytes.Contains(got, []byte("Content-Type: text/html")) {
		t.Errorf("content type not inferred: %q", got)
	}

	// Cached after the first read.
	if err := os.WriteFile(path, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}
	again, _ := b.Build(context.Background())
	if !bytes.Equal(got, again) {
		t.Error("second Build should return the cached payload")
	}
}

func TestFile_Raw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := File(path, "").Raw().Build(context.Background())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Build() = %v, want raw file bytes", got)
	}
}

func TestFile_Missing(t *testing.T) {
	b := File(filepath.Join(t.TempDir(), "missing.html"), "text/html")
	_, err := b.Build(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}
