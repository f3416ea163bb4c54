// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display frames on the line in human-readable format",
	Long: `Continuously decode and display link frames as they arrive, without
sending anything.

Attach to a line tapped between a host and the supply to watch both the
requests and the responses. Each frame is shown with timestamp, message type
and decoded fields. Frames failing validation are reported and counted.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw frame bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	port, connInfo, err := openRawPort()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("dpsctl - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := dps.NewStatistics()
	err = sniff(cmd.Context().Done(), port, os.Stdout, stats)
	fmt.Print("\n" + stats.Snapshot().String())
	return err
}

// sniff decodes frames from r and prints them until done is closed or the
// connection ends
func sniff(done <-chan struct{}, r io.Reader, w io.Writer, stats *dps.Statistics) error {
	decoder := dps.NewDecoder()
	buf := make([]byte, 128)

	for {
		select {
		case <-done:
			return nil
		default:
		}

		n, err := r.Read(buf)
		if err != nil {
			// A WebSocket read error means the connection is gone
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Info("Connection closed")
				return nil
			}
			log.WithError(err).Error("Read error")
			return err
		}

		for i := 0; i < n; i++ {
			var raw []byte
			if rawLogHex && decoder.InFrame() {
				raw = append(raw, decoder.RawBytes()...)
			}

			payload, err := decoder.DecodeByte(buf[i])
			if err != nil {
				stats.Update(dps.KindUnknown, err, 0)
				fmt.Fprintf(w, "[%s] ERROR %v\n", time.Now().Format("15:04:05.000"), err)
				continue
			}
			if payload == nil {
				continue
			}

			_, perr := dps.ParseResponse(payload)
			kind := dps.KindOf(payload)
			if errors.Is(perr, dps.ErrUnknownTag) {
				// Requests are not responses; count them as valid frames
				perr = nil
			}
			stats.Update(kind, perr, 0)

			fmt.Fprint(w, dps.FormatPayload(time.Now(), payload))
			if rawLogHex {
				fmt.Fprintf(w, "  Frame: %s\n", dps.FormatHex(append(raw, buf[i]), " "))
			}
		}
	}
}
