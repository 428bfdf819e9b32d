package wavstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHeaderBytes(t *testing.T) {
	t.Parallel()

	want := []byte{
		'R', 'I', 'F', 'F', 0xFF, 0xFF, 0xFF, 0xFF, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 0x10, 0x00, 0x00, 0x00,
		0x01, 0x00, // PCM
		0x02, 0x00, // stereo
		0x44, 0xAC, 0x00, 0x00, // 44100
		0x10, 0xB1, 0x02, 0x00, // 176400 bytes/s
		0x04, 0x00, // block align
		0x10, 0x00, // 16 bit
		'd', 'a', 't', 'a', 0xFF, 0xFF, 0xFF, 0xFF,
	}
	require.Len(t, DefaultHeader, HeaderSize)
	assert.Equal(t, want, DefaultHeader)
}

func TestHeaderForOtherFormats(t *testing.T) {
	t.Parallel()

	h := Header(Format{SampleRate: 48000, Channels: 1, BitDepth: 24})
	require.Len(t, h, HeaderSize)
	assert.Equal(t, []byte{0x01, 0x00}, h[22:24])
	assert.Equal(t, []byte{0x80, 0xBB, 0x00, 0x00}, h[24:28])
	assert.Equal(t, []byte{0x80, 0x32, 0x02, 0x00}, h[28:32]) // 144000
	assert.Equal(t, []byte{0x03, 0x00}, h[32:34])
	assert.Equal(t, []byte{0x18, 0x00}, h[34:36])
}

func TestFormatDerivedValues(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, DefaultFormat.BlockAlign())
	assert.Equal(t, 176400, DefaultFormat.BytesPerSecond())
	assert.Equal(t, time.Second, DefaultFormat.Duration(176400))
	assert.Zero(t, Format{}.Duration(100))

	af := DefaultFormat.AudioFormat()
	assert.Equal(t, 2, af.NumChannels)
	assert.Equal(t, 44100, af.SampleRate)
}
