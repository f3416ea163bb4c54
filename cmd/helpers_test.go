// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/Thermoquad/dpsctl/pkg/dps/dpstest"
)

// testSession connects a session without poller to a simulated supply
func testSession(t *testing.T) (*dps.Session, *dpstest.Device) {
	t.Helper()

	dev := dpstest.NewDevice()
	cfg := dps.DefaultConfig("/dev/ttyTEST")
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.PollInterval = 0
	logger, _ := logtest.NewNullLogger()
	cfg.Logger = logger

	s := dps.NewSession(dev.Open, cfg)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })
	return s, dev
}
