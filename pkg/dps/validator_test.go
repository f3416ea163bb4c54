// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func anomalyTypes(errs []ValidationError) []AnomalyType {
	out := make([]AnomalyType, len(errs))
	for i, e := range errs {
		out[i] = e.Type
	}
	return out
}

func TestValidateState(t *testing.T) {
	limits := Limits{MasterVoltage: 12, MasterCurrent: 1, SlaveVoltage: 12, SlaveCurrent: 1}

	tests := []struct {
		name  string
		state State
		want  []AnomalyType
	}{
		{
			name:  "healthy",
			state: State{Mode: DefaultMode, MasterVoltage: 12, MasterCurrent: 0.5, Limits: limits, TempAmplifier: 30},
			want:  []AnomalyType{},
		},
		{
			name:  "reading within one raw unit of limit",
			state: State{MasterVoltage: 12.01, MasterCurrent: 1.001, Limits: limits},
			want:  []AnomalyType{},
		},
		{
			name:  "device error and lock",
			state: State{Mode: ModeError | ModeLock},
			want:  []AnomalyType{AnomalyDeviceError, AnomalyLocked},
		},
		{
			name:  "overtemperature flag",
			state: State{ControlMode: ControlOvertempTrafo},
			want:  []AnomalyType{AnomalyOvertemp},
		},
		{
			name:  "overtemperature reading",
			state: State{TempAmplifier: 101},
			want:  []AnomalyType{AnomalyOvertemp},
		},
		{
			name:  "slave in current limiting",
			state: State{ControlMode: ControlSlaveCurrent, SlaveCurrent: 1, Limits: limits},
			want:  []AnomalyType{AnomalyCurrentLimit},
		},
		{
			name:  "master voltage above limit",
			state: State{MasterVoltage: 12.5, Limits: limits},
			want:  []AnomalyType{AnomalyOverLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, anomalyTypes(ValidateState(tt.state)))
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	errs := ValidateState(State{Mode: ModeLock})
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "Front panel locked", errs[0].Error())
	}
}
