package wavstream

import (
	"encoding/binary"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/turntable-relay/internal/errors"
)

// FileWriter writes little-endian 16-bit PCM into a finite WAV file. Unlike
// Header it patches the real sizes on Close, so it needs a seekable target.
type FileWriter struct {
	enc     *wav.Encoder
	format  Format
	pending []byte // trailing bytes of an incomplete sample
	frames  int
}

// NewFileWriter starts a WAV file on w. Only 16-bit formats are supported.
func NewFileWriter(w io.WriteSeeker, f Format) (*FileWriter, error) {
	if f.BitDepth != 16 {
		return nil, errors.Newf("unsupported bit depth %d, only 16-bit PCM can be recorded", f.BitDepth).
			Component("wavstream").
			Category(errors.CategoryValidation).
			Build()
	}
	return &FileWriter{
		enc:    wav.NewEncoder(w, f.SampleRate, f.BitDepth, f.Channels, 1),
		format: f,
	}, nil
}

// Write appends raw PCM. Partial samples are carried to the next call.
func (fw *FileWriter) Write(p []byte) (int, error) {
	data := p
	if len(fw.pending) > 0 {
		data = append(fw.pending, p...)
		fw.pending = nil
	}

	whole := len(data) &^ 1
	if whole < len(data) {
		fw.pending = []byte{data[whole]}
	}
	if whole == 0 {
		return len(p), nil
	}

	samples := make([]int, whole/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}

	buf := &audio.IntBuffer{Data: samples, Format: fw.format.AudioFormat(), SourceBitDepth: 16}
	if err := fw.enc.Write(buf); err != nil {
		return 0, errors.New(err).
			Component("wavstream").
			Category(errors.CategoryFileIO).
			Context("operation", "wav_encode").
			Build()
	}
	fw.frames += len(samples) / max(fw.format.Channels, 1)
	return len(p), nil
}

// Frames is the number of complete sample frames written so far.
func (fw *FileWriter) Frames() int {
	return fw.frames
}

// Close finalizes the RIFF header. It does not close the underlying writer.
func (fw *FileWriter) Close() error {
	if err := fw.enc.Close(); err != nil {
		return errors.New(err).
			Component("wavstream").
			Category(errors.CategoryFileIO).
			Context("operation", "wav_finalize").
			Build()
	}
	return nil
}
