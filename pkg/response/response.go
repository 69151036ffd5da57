package response

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// Builder produces the payload written back to a client.
//
// Build is called once per connection, possibly from several goroutines at
// once. The returned slice is written verbatim and must not be modified by
// the caller.
type Builder interface {
	Build(ctx context.Context) ([]byte, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context) ([]byte, error)

// Build calls f(ctx).
func (f BuilderFunc) Build(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// DefaultBody is the page served by Default.
const DefaultBody = "<!DOCTYPE html><html lang=\"en\"><body><h1> HOME </h1><p> Hello from your Server :) </p></body></html>"

// Default returns the builder used when nothing else is configured: a
// 200 text/html page.
func Default() Builder {
	return HTML(DefaultBody)
}

type static struct {
	payload []byte
}

func (s static) Build(context.Context) ([]byte, error) {
	return s.payload, nil
}

// Static returns a builder that always yields payload unchanged.
func Static(payload []byte) Builder {
	p := make([]byte, len(payload))
	copy(p, payload)
	return static{payload: p}
}

// HTML returns a builder for a 200 text/html response.
func HTML(body string) Builder {
	return HTTP(http.StatusOK, "text/html", []byte(body))
}

// HTTP returns a builder for a fixed HTTP/1.1 response.
func HTTP(status int, contentType string, body []byte) Builder {
	return Static(Frame(status, contentType, body))
}

// Frame renders a minimal HTTP/1.1 response with a status line,
// Content-Type, Content-Length and Connection: close.
func Frame(status int, contentType string, body []byte) []byte {
	text := http.StatusText(status)
	if text == "" {
		text = "Status " + strconv.Itoa(status)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, text, contentType, len(body))

	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	return out
}
