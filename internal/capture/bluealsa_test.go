package capture

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

type stubRunner struct {
	out   string
	calls int
}

func (s *stubRunner) Output(context.Context, string, ...string) ([]byte, error) {
	s.calls++
	return []byte(s.out), nil
}

// recordCommand swaps the process launcher for one that records its arguments.
func recordCommand(src *BlueALSASource) *[]string {
	var got []string
	src.newCommand = func(path string, args []string) Source {
		got = append([]string{path}, args...)
		return SourceFunc{SourceName: "fake", StartFunc: func(context.Context) (io.ReadCloser, error) {
			return newStream(""), nil
		}}
	}
	return &got
}

func TestBlueALSASourceConfiguredMAC(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	src := NewBlueALSASource(conf.BluetoothSettings{
		MAC:     "f4:04:4c:1a:e5:b9",
		Adapter: "hci0",
		CLIPath: "bluealsa-cli",
	}, runner, logger.NewDiscardLogger())
	got := recordCommand(src)

	stream, err := src.Start(t.Context())
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Equal(t, []string{"bluealsa-cli", "open", "/org/bluealsa/hci0/dev_F4_04_4C_1A_E5_B9/a2dpsnk/source"}, *got)
	assert.Zero(t, runner.calls, "no discovery when the address is configured")
	assert.Equal(t, "bluealsa", src.Name())
}

func TestBlueALSASourceAutoDiscover(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{out: "bluealsa:DEV=00:1A:7D:DA:71:13,PROFILE=a2dp,SRV=org.bluealsa\n    Turntable\n"}
	src := NewBlueALSASource(conf.BluetoothSettings{
		MAC:          "F4:04:4C:1A:E5:B9",
		AutoDiscover: true,
		Adapter:      "hci1",
	}, runner, logger.NewDiscardLogger())
	got := recordCommand(src)

	stream, err := src.Start(t.Context())
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, []string{"bluealsa-cli", "open", "/org/bluealsa/hci1/dev_00_1A_7D_DA_71_13/a2dpsnk/source"}, *got)
}

func TestBlueALSASourceNothingConnected(t *testing.T) {
	t.Parallel()

	src := NewBlueALSASource(conf.BluetoothSettings{AutoDiscover: true}, &stubRunner{}, logger.NewDiscardLogger())
	recordCommand(src)

	_, err := src.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
