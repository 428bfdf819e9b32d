package bluetooth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/tphakala/turntable-relay/internal/errors"
)

const listOutput = `bluealsa:DEV=00:11:22:33:44:55,PROFILE=sco,SRV=org.bluealsa
    Headset, trusted audio-headset, capture
    SCO (CVSD): S16_LE 1 channel 8000 Hz
bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp,SRV=org.bluealsa
    AT-LP60XBT, trusted audio-card, capture
    A2DP (SBC): S16_LE 2 channels 44100 Hz
bluealsa:DEV=aa:bb:cc:dd:ee:ff,PROFILE=a2dp,SRV=org.bluealsa
`

type fakeRunner struct {
	out  string
	err  error
	name string
	args []string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name, f.args = name, args
	return []byte(f.out), f.err
}

func TestParsePCMList(t *testing.T) {
	t.Parallel()

	pcms := ParsePCMList(listOutput)
	require.Len(t, pcms, 3)

	assert.Equal(t, "00:11:22:33:44:55", pcms[0].Device)
	assert.Equal(t, "sco", pcms[0].Profile)
	assert.False(t, pcms[0].IsA2DP())

	assert.Equal(t, "F4:04:4C:1A:E5:B9", pcms[1].Device)
	assert.Equal(t, "org.bluealsa", pcms[1].Service)
	assert.Equal(t, "bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp,SRV=org.bluealsa", pcms[1].Raw)
	assert.True(t, pcms[1].IsA2DP())

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", pcms[2].Device, "addresses are upper-cased")
}

func TestParsePCMListEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, ParsePCMList(""))
	assert.Empty(t, ParsePCMList("no devices\n"))
}

func TestFind(t *testing.T) {
	t.Parallel()

	pcms := ParsePCMList(listOutput)

	got, err := Find(pcms, "", "")
	require.NoError(t, err)
	assert.Equal(t, "F4:04:4C:1A:E5:B9", got.Device, "first a2dp entry wins")

	got, err = Find(pcms, "aa_bb_cc_dd_ee_ff", "")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", got.Device)

	_, err = Find(pcms, "01:02:03:04:05:06", "")
	require.Error(t, err)
	assert.True(t, relayerrors.IsNotFound(err))

	_, err = Find(pcms[:1], "", "")
	require.Error(t, err)
	assert.True(t, relayerrors.IsNotFound(err))

	got, err = Find(pcms, "", "SCO")
	require.NoError(t, err)
	assert.Equal(t, "00:11:22:33:44:55", got.Device)

	_, err = Find(pcms, "bogus", "")
	assert.True(t, relayerrors.IsCategory(err, relayerrors.CategoryValidation))
}

func TestPCMPath(t *testing.T) {
	t.Parallel()

	path, err := PCMPath("", "F4:04:4C:1A:E5:B9")
	require.NoError(t, err)
	assert.Equal(t, "/org/bluealsa/hci0/dev_F4_04_4C_1A_E5_B9/a2dpsnk/source", path)

	path, err = PCMPath("hci1", "f4-04-4c-1a-e5-b9")
	require.NoError(t, err)
	assert.Equal(t, "/org/bluealsa/hci1/dev_F4_04_4C_1A_E5_B9/a2dpsnk/source", path)

	_, err = PCMPath("hci0", "F4:04:4C")
	require.Error(t, err)
}

func TestListPCMs(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: listOutput}
	pcms, err := ListPCMs(t.Context(), runner, "")
	require.NoError(t, err)
	assert.Len(t, pcms, 3)
	assert.Equal(t, "bluealsa-aplay", runner.name)
	assert.Equal(t, []string{"--list-pcms"}, runner.args)

	_, err = ListPCMs(t.Context(), &fakeRunner{err: errors.New("exec: not found")}, "/opt/bin/bluealsa-aplay")
	require.Error(t, err)
	assert.True(t, relayerrors.IsCategory(err, relayerrors.CategoryBluetooth))
}
