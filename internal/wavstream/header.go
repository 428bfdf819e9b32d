// Package wavstream describes the endless WAV stream sent to listeners.
package wavstream

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/go-audio/audio"
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

// unknownSize marks the RIFF and data chunk lengths of a stream with no end.
const unknownSize = 0xFFFFFFFF

const wavFormatPCM = 1

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is CD audio as delivered by an A2DP sink: 44.1 kHz, stereo, 16 bit.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2, BitDepth: 16}

// DefaultHeader is the header for DefaultFormat.
var DefaultHeader = Header(DefaultFormat)

// BlockAlign is the size of one frame in bytes.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitDepth / 8
}

// BytesPerSecond is the PCM data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration converts a byte count to playback time.
func (f Format) Duration(n uint64) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// AudioFormat returns the go-audio representation used by encoders.
func (f Format) AudioFormat() *audio.Format {
	return &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate}
}

// Header builds a 44-byte WAV header whose RIFF and data sizes are 0xFFFFFFFF,
// which players treat as a stream of unknown length.
func Header(f Format) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(unknownSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(wavFormatPCM))
	_ = binary.Write(buf, le, uint16(f.Channels))
	_ = binary.Write(buf, le, uint32(f.SampleRate))
	_ = binary.Write(buf, le, uint32(f.BytesPerSecond()))
	_ = binary.Write(buf, le, uint16(f.BlockAlign()))
	_ = binary.Write(buf, le, uint16(f.BitDepth))

	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(unknownSize))

	return buf.Bytes()
}
