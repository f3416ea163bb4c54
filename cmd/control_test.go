// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/dpsctl/pkg/dps"
)

func TestParseSwitch(t *testing.T) {
	for _, v := range []string{"on"} {
		on, err := parseSwitch(v)
		require.NoError(t, err)
		assert.True(t, on)
	}
	for _, v := range []string{"off", "standby"} {
		on, err := parseSwitch(v)
		require.NoError(t, err)
		assert.False(t, on)
	}

	_, err := parseSwitch("ON")
	var br badRequest
	assert.True(t, errors.As(err, &br))
}

func TestApplyMode(t *testing.T) {
	ctx := context.Background()
	s, dev := testSession(t)

	require.NoError(t, applyMode(ctx, s, "series"))
	assert.Equal(t, dps.ModeSeries, dev.Mode.Output())

	require.NoError(t, applyMode(ctx, s, "dual"))
	assert.Equal(t, dps.ModeDual, dev.Mode.Output())

	require.NoError(t, applyMode(ctx, s, "master_slave"))
	assert.Equal(t, dps.ModeMasterSlave, dev.Mode.Output())

	// Unchanged topology sends nothing
	before := dev.Count(dps.CmdSetMode)
	require.NoError(t, applyMode(ctx, s, "master-slave"))
	assert.Equal(t, before, dev.Count(dps.CmdSetMode))

	err := applyMode(ctx, s, "parallel")
	var br badRequest
	assert.True(t, errors.As(err, &br))
	assert.Equal(t, before, dev.Count(dps.CmdSetMode))
}

func TestApplyOutput(t *testing.T) {
	ctx := context.Background()
	s, dev := testSession(t)

	require.NoError(t, applyOutput(ctx, s, "slave", true))
	assert.False(t, dev.Mode.Has(dps.ModeSlaveStandby))
	assert.True(t, dev.Mode.Has(dps.ModeMasterStandby))

	require.NoError(t, applyOutput(ctx, s, "master", true))
	assert.False(t, dev.Mode.Has(dps.ModeMasterStandby))

	require.NoError(t, applyOutput(ctx, s, "slave", false))
	assert.True(t, dev.Mode.Has(dps.ModeSlaveStandby))
	assert.True(t, dev.Mode.Has(dps.ModeRemote))

	err := applyOutput(ctx, s, "both", true)
	var br badRequest
	assert.True(t, errors.As(err, &br))
}

func TestMergeLimits(t *testing.T) {
	current := dps.Limits{MasterVoltage: 15, MasterCurrent: 1, SlaveVoltage: 15, SlaveCurrent: 1}

	assert.Equal(t, current, mergeLimits(current, limitOverrides{}))
	assert.True(t, limitOverrides{}.empty())

	o := limitOverrides{
		MasterCurrent: changed(true, 0.5),
		SlaveVoltage:  changed(true, 5),
		SlaveCurrent:  changed(false, 3),
	}
	assert.False(t, o.empty())
	assert.Nil(t, o.SlaveCurrent)
	assert.Equal(t, dps.Limits{MasterVoltage: 15, MasterCurrent: 0.5, SlaveVoltage: 5, SlaveCurrent: 1}, mergeLimits(current, o))

	// Zero is a valid override
	o = limitOverrides{MasterVoltage: changed(true, 0)}
	assert.Equal(t, 0.0, mergeLimits(current, o).MasterVoltage)
}
