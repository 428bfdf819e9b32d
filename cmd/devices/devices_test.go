package devices

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
)

type stubRunner struct {
	output string
	err    error
}

func (r stubRunner) Output(context.Context, string, ...string) ([]byte, error) {
	return []byte(r.output), r.err
}

const pcmList = `bluealsa:DEV=11:22:33:44:55:66,PROFILE=a2dp,SRV=org.bluealsa
    Phone, trusted phone, playback
bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp,SRV=org.bluealsa
    Turntable, trusted audio-card, capture
`

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestListMarksConfiguredPCM(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	listDevices := func() ([]capture.DeviceInfo, error) {
		return []capture.DeviceInfo{{Index: 0, Name: "USB Audio", ID: "hw:1,0", IsDefault: true}}, nil
	}

	var out bytes.Buffer
	require.NoError(t, List(t.Context(), &out, settings, stubRunner{output: pcmList}, listDevices))

	var marked []string
	for _, l := range lines(out.String()) {
		if strings.HasPrefix(strings.TrimSpace(l), "*") {
			marked = append(marked, l)
		}
	}
	require.Len(t, marked, 2)
	assert.Contains(t, marked[0], "F4:04:4C:1A:E5:B9")
	assert.Contains(t, marked[1], "USB Audio")
}

func TestListAutoDiscoverMarksFirst(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.Capture.Bluetooth.AutoDiscover = true

	var out bytes.Buffer
	require.NoError(t, List(t.Context(), &out, settings, stubRunner{output: pcmList},
		func() ([]capture.DeviceInfo, error) { return nil, nil }))

	for _, l := range lines(out.String()) {
		if strings.HasPrefix(strings.TrimSpace(l), "*") {
			assert.Contains(t, l, "11:22:33:44:55:66")
		}
	}
	assert.Contains(t, out.String(), "none found")
}

func TestListReportsUnavailableBackends(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	var out bytes.Buffer
	err := List(t.Context(), &out, settings,
		stubRunner{err: errors.NewStd("executable file not found")},
		func() ([]capture.DeviceInfo, error) { return nil, errors.NewStd("no backend") })
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Bluetooth PCMs (BlueALSA):\n  unavailable:")
	assert.Contains(t, out.String(), "no backend")
}
