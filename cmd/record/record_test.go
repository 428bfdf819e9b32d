package record

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/wavstream"
)

// 1 kHz, mono keeps the numbers small: 2000 bytes per second
var testFormat = wavstream.Format{SampleRate: 1000, Channels: 1, BitDepth: 16}

func pcmSource(n int) capture.Source {
	return capture.SourceFunc{
		SourceName: "test",
		StartFunc: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(make([]byte, n))), nil
		},
	}
}

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "out.wav"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestRecordStopsAtDuration(t *testing.T) {
	t.Parallel()

	f := tempFile(t)
	res, err := Record(t.Context(), pcmSource(10_000), testFormat, 2*time.Second, 256, f)
	require.NoError(t, err)

	assert.Equal(t, 2000, res.Frames)
	assert.Equal(t, 2*time.Second, res.Duration)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	dur, err := dec.Duration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, dur)
}

func TestRecordShortSource(t *testing.T) {
	t.Parallel()

	res, err := Record(t.Context(), pcmSource(1000), testFormat, 5*time.Second, 256, tempFile(t))
	require.NoError(t, err)
	assert.Equal(t, 500, res.Frames)
	assert.Equal(t, 500*time.Millisecond, res.Duration)
}

func TestRecordValidation(t *testing.T) {
	t.Parallel()

	_, err := Record(t.Context(), pcmSource(0), testFormat, 0, 256, tempFile(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRecordStartFailure(t *testing.T) {
	t.Parallel()

	src := capture.SourceFunc{
		SourceName: "broken",
		StartFunc: func(context.Context) (io.ReadCloser, error) {
			return nil, errors.NewStd("bluealsa-cli not found")
		},
	}
	_, err := Record(t.Context(), src, testFormat, time.Second, 256, tempFile(t))
	require.EqualError(t, err, "bluealsa-cli not found")
}
