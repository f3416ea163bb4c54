// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

// USB IDs of the CH340 adapter built into the supply
const (
	ch340VID = "1A86"
	ch340PID = "7523"
)

var (
	discoveryProbe bool
	discoveryAll   bool
)

var discoveryCmd = &cobra.Command{
	Use:     "discovery",
	Aliases: []string{"ports"},
	Short:   "List serial ports and find attached supplies",
	Long: `List the serial ports of this machine. Ports using the CH340 USB adapter
found in the supply are marked.

With --probe, each USB port (every port with --all) is opened and sent a
GET_VERSION request. Ports that answer with a valid frame are reported with
the firmware versions. Probing does not change the supply mode.

Exit codes:
  0 - At least one port listed (or one supply found when probing)
  1 - Nothing found
  2 - Port enumeration failed`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().BoolVar(&discoveryProbe, "probe", false, "Send a version request to each port")
	discoveryCmd.Flags().BoolVar(&discoveryAll, "all", false, "Probe non-USB ports too")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Port enumeration failed: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("dpsctl - Port Discovery\n\n")

	found := 0
	for _, p := range ports {
		fmt.Println(describePort(p))

		if !discoveryProbe || (!p.IsUSB && !discoveryAll) {
			found++
			continue
		}

		master, slave, err := probePort(p.Name)
		if err != nil {
			fmt.Printf("    no supply: %v\n", err)
			continue
		}
		fmt.Printf("    DPS5315 found, firmware master %s, slave %s\n", master, slave)
		found++
	}

	if found == 0 {
		fmt.Println("Nothing found")
		os.Exit(1)
	}
	return nil
}

func describePort(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  USB %s:%s", p.Name, strings.ToUpper(p.VID), strings.ToUpper(p.PID))
	if p.Product != "" {
		fmt.Fprintf(&b, "  %s", p.Product)
	}
	if p.SerialNumber != "" {
		fmt.Fprintf(&b, "  serial %s", p.SerialNumber)
	}
	if strings.EqualFold(p.VID, ch340VID) && strings.EqualFold(p.PID, ch340PID) {
		b.WriteString("  [CH340]")
	}
	return b.String()
}

// probePort opens a port with the adapter reset sequence and asks for the
// firmware version
func probePort(name string) (master, slave dps.Version, err error) {
	if initBaud > 0 {
		first, err := OpenSerialPort(name, initBaud)
		if err != nil {
			return 0, 0, err
		}
		first.Close()
	}

	port, err := OpenSerialPort(name, baudRate)
	if err != nil {
		return 0, 0, err
	}
	defer port.Close()

	return probe(port, readTimeout)
}

// probe sends GET_VERSION and waits up to timeout for the version response
func probe(port dps.Port, timeout time.Duration) (master, slave dps.Version, err error) {
	if err := port.SetReadTimeout(timeout / 4); err != nil {
		return 0, 0, err
	}
	if _, err := port.Write(dps.EncodeFrame(dps.NewGetVersionCommand())); err != nil {
		return 0, 0, err
	}

	decoder := dps.NewDecoder()
	buf := make([]byte, 64)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return 0, 0, err
		}
		for i := 0; i < n; i++ {
			payload, err := decoder.DecodeByte(buf[i])
			if err != nil {
				return 0, 0, err
			}
			if payload == nil {
				continue
			}

			var st dps.State
			kind, err := st.Apply(payload)
			if err != nil {
				return 0, 0, err
			}
			if kind != dps.KindVersion {
				return 0, 0, fmt.Errorf("%w: got %s", dps.ErrUnexpectedResponse, kind)
			}
			return st.MasterVersion, st.SlaveVersion, nil
		}
	}
	return 0, 0, dps.ErrTimeout
}
