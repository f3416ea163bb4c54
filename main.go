// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// dpsctl - ELV DPS5315 power supply control
//
// A CLI tool for remote control and monitoring of DPS5315 bench supplies
// over their serial link.

package main

import (
	"os"

	"github.com/Thermoquad/dpsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
