// Package bluetooth locates A2DP audio sources exposed by BlueALSA.
package bluetooth

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/tphakala/turntable-relay/internal/errors"
)

// pcmPrefix starts every PCM line printed by bluealsa-aplay --list-pcms
const pcmPrefix = "bluealsa:"

var macPattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

// PCM is one BlueALSA PCM as listed by bluealsa-aplay.
type PCM struct {
	Device  string // MAC address, upper case with colons
	Profile string // e.g. a2dp
	Service string // D-Bus service name, e.g. org.bluealsa
	Raw     string // the full ALSA device string
}

// DefaultProfile is the Bluetooth profile carrying stereo music.
const DefaultProfile = "a2dp"

// IsA2DP reports whether the PCM carries A2DP audio.
func (p PCM) IsA2DP() bool {
	return p.HasProfile(DefaultProfile)
}

// HasProfile compares the PCM profile case-insensitively.
func (p PCM) HasProfile(profile string) bool {
	return strings.EqualFold(p.Profile, profile)
}

// NormalizeMAC converts aa_bb-cc:dd... to AA:BB:CC:DD:EE:FF and validates it.
func NormalizeMAC(mac string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(mac))
	normalized = strings.NewReplacer("_", ":", "-", ":").Replace(normalized)
	if !macPattern.MatchString(normalized) {
		return "", errors.Newf("invalid Bluetooth address %q", mac).
			Component("bluetooth").
			Category(errors.CategoryValidation).
			Build()
	}
	return normalized, nil
}

// PCMPath returns the BlueALSA D-Bus object path of the A2DP sink PCM for mac,
// e.g. /org/bluealsa/hci0/dev_F4_04_4C_1A_E5_B9/a2dpsnk/source.
func PCMPath(adapter, mac string) (string, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return "", err
	}
	if adapter == "" {
		adapter = "hci0"
	}
	return "/org/bluealsa/" + adapter + "/dev_" + strings.ReplaceAll(normalized, ":", "_") + "/a2dpsnk/source", nil
}

// ParsePCMList extracts PCMs from bluealsa-aplay --list-pcms output. Lines that
// are not ALSA device strings (descriptions, headers) are ignored.
func ParsePCMList(output string) []PCM {
	var pcms []PCM
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, pcmPrefix+"DEV=") {
			continue
		}
		pcm := PCM{Raw: line}
		for field := range strings.SplitSeq(strings.TrimPrefix(line, pcmPrefix), ",") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			switch strings.ToUpper(key) {
			case "DEV":
				pcm.Device = strings.ToUpper(value)
			case "PROFILE":
				pcm.Profile = value
			case "SRV":
				pcm.Service = value
			}
		}
		pcms = append(pcms, pcm)
	}
	return pcms
}

// Find selects the PCM for mac, or the first PCM with the given profile when
// mac is empty. An empty profile means a2dp.
func Find(pcms []PCM, mac, profile string) (PCM, error) {
	if mac != "" {
		normalized, err := NormalizeMAC(mac)
		if err != nil {
			return PCM{}, err
		}
		for _, p := range pcms {
			if p.Device == normalized {
				return p, nil
			}
		}
		return PCM{}, errors.Newf("Bluetooth device with MAC %s not found in BlueALSA", normalized).
			Component("bluetooth").
			Category(errors.CategoryNotFound).
			Context("listed_pcms", len(pcms)).
			Build()
	}

	if profile == "" {
		profile = DefaultProfile
	}
	for _, p := range pcms {
		if p.HasProfile(profile) {
			return p, nil
		}
	}
	return PCM{}, errors.Newf("no Bluetooth %s audio source found in BlueALSA, is the device connected and playing?", profile).
		Component("bluetooth").
		Category(errors.CategoryNotFound).
		Context("listed_pcms", len(pcms)).
		Build()
}

// Runner executes a command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Output runs name with args and returns stdout.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ListPCMs runs `<aplay> --list-pcms` and parses the result.
func ListPCMs(ctx context.Context, runner Runner, aplayPath string) ([]PCM, error) {
	if aplayPath == "" {
		aplayPath = "bluealsa-aplay"
	}
	out, err := runner.Output(ctx, aplayPath, "--list-pcms")
	if err != nil {
		return nil, errors.New(err).
			Component("bluetooth").
			Category(errors.CategoryBluetooth).
			Context("operation", "list_pcms").
			Context("command", aplayPath).
			Build()
	}
	return ParsePCMList(string(out)), nil
}
