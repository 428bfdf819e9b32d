// Package capture runs the audio producer: it opens a PCM source, copies it
// into the audio buffer in fixed-size chunks and restarts the source when it
// ends or fails.
package capture

import (
	"context"
	"io"
)

// Source opens a raw PCM byte stream. Each Start begins a fresh capture; the
// returned reader ends with io.EOF when the capture ends and Close releases
// everything Start acquired. Close reports why the capture ended if it failed.
type Source interface {
	Name() string
	Start(ctx context.Context) (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	StartFunc  func(ctx context.Context) (io.ReadCloser, error)
}

// Name returns the source name
func (f SourceFunc) Name() string { return f.SourceName }

// Start calls StartFunc
func (f SourceFunc) Start(ctx context.Context) (io.ReadCloser, error) { return f.StartFunc(ctx) }
