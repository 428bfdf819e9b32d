// Package devices lists the capture sources the relay can use.
package devices

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/turntable-relay/internal/bluetooth"
	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/conf"
)

// Command creates the devices command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List Bluetooth PCMs and local capture devices",
		Long:  "List BlueALSA PCMs and sound devices. The PCM the bluealsa backend would open is marked with *.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return List(cmd.Context(), cmd.OutOrStdout(), settings, bluetooth.ExecRunner{}, capture.ListDevices)
		},
	}
}

// List writes both device tables to w. A failing backend is reported inline
// so the other table still prints.
func List(ctx context.Context, w io.Writer, settings *conf.Settings, runner bluetooth.Runner, listDevices func() ([]capture.DeviceInfo, error)) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "Bluetooth PCMs (BlueALSA):")
	bt := settings.Capture.Bluetooth
	pcms, err := bluetooth.ListPCMs(ctx, runner, bt.APlayPath)
	switch {
	case err != nil:
		fmt.Fprintf(tw, "  unavailable: %v\n", err)
	case len(pcms) == 0:
		fmt.Fprintln(tw, "  none connected")
	default:
		mac := bt.MAC
		if bt.AutoDiscover {
			mac = ""
		}
		selected, _ := bluetooth.Find(pcms, mac, bt.Profile)
		fmt.Fprintln(tw, "  \tDEVICE\tPROFILE\tSERVICE")
		for _, p := range pcms {
			mark := ""
			if p == selected {
				mark = "*"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", mark, p.Device, p.Profile, p.Service)
		}
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Capture devices:")
	devices, err := listDevices()
	switch {
	case err != nil:
		fmt.Fprintf(tw, "  unavailable: %v\n", err)
	case len(devices) == 0:
		fmt.Fprintln(tw, "  none found")
	default:
		fmt.Fprintln(tw, "  \tINDEX\tNAME\tID")
		for _, d := range devices {
			mark := ""
			if d.IsDefault {
				mark = "*"
			}
			fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", mark, d.Index, d.Name, d.ID)
		}
	}

	return tw.Flush()
}
