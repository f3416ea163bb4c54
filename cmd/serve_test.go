// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/dpsctl/pkg/dps"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_GetState(t *testing.T) {
	s, _ := testSession(t)
	router := newAPI(s).router()

	rec := do(t, router, "GET", "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=UTF-8", rec.Header().Get("Content-Type"))

	var rsp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	assert.Equal(t, "ready", rsp.Phase)
	assert.Equal(t, dps.DefaultMode, rsp.State.Mode)
	assert.Equal(t, dps.DefaultMode.String(), rsp.Mode)
	assert.Equal(t, 15.0, rsp.State.Limits.MasterVoltage)
	assert.NotNil(t, rsp.Anomalies)
}

func TestAPI_GetStats(t *testing.T) {
	s, _ := testSession(t)
	router := newAPI(s).router()

	rec := do(t, router, "GET", "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats dps.StatisticsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(4), stats.Requests)
	assert.Equal(t, uint64(4), stats.ValidFrames)
}

func TestAPI_SetMode(t *testing.T) {
	s, dev := testSession(t)
	router := newAPI(s).router()

	rec := do(t, router, "POST", "/mode/dual", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dps.ModeDual, dev.Mode.Output())
	assert.Equal(t, dps.ModeDual, s.Snapshot().Mode.Output())

	rec = do(t, router, "POST", "/mode/bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown mode")

	rec = do(t, router, "GET", "/mode/dual", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_SetOutput(t *testing.T) {
	s, dev := testSession(t)
	router := newAPI(s).router()

	rec := do(t, router, "POST", "/output/master/on", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, dev.Mode.Has(dps.ModeMasterStandby))
	assert.True(t, dev.Mode.Has(dps.ModeSlaveStandby))

	var rsp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	assert.True(t, rsp.State.MasterEnabled())

	rec = do(t, router, "POST", "/output/master/off", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dev.Mode.Has(dps.ModeMasterStandby))

	rec = do(t, router, "POST", "/output/middle/on", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "POST", "/output/slave/maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SetLimits(t *testing.T) {
	s, dev := testSession(t)
	router := newAPI(s).router()

	rec := do(t, router, "PUT", "/limits", `{"mv_limit": 12.5, "si_limit": 0.25}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var limits dps.Limits
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
	assert.Equal(t, dps.Limits{MasterVoltage: 12.5, MasterCurrent: 1, SlaveVoltage: 15, SlaveCurrent: 0.25}, limits)
	assert.Equal(t, uint16(1250), dev.MasterVoltageLimit)
	assert.Equal(t, uint16(1000), dev.MasterCurrentLimit)
	assert.Equal(t, uint16(250), dev.SlaveCurrentLimit)
}

func TestAPI_SetLimits_BadRequest(t *testing.T) {
	s, dev := testSession(t)
	router := newAPI(s).router()

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"unknown field", `{"volts": 3}`},
		{"not json", `twelve`},
		{"out of range", `{"mv_limit": 1000}`},
		{"negative", `{"mi_limit": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, "PUT", "/limits", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	assert.Zero(t, dev.Count(dps.CmdSetControlValues))
}

func TestAPI_Metrics(t *testing.T) {
	s, _ := testSession(t)
	router := newAPI(s).router()
	_, err := s.GetStatus(context.Background())
	require.NoError(t, err)

	rec := do(t, router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `dps_output_voltage_volts{channel="master"} 0`)
	assert.Contains(t, body, `dps_voltage_limit_volts{channel="slave"} 15`)
	assert.Contains(t, body, `dps_temperature_celsius{sensor="amplifier"} 25`)
	assert.Contains(t, body, "dps_connected 1")
	assert.Contains(t, body, "dps_link_requests_total 5")
	assert.Contains(t, body, "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest{errors.New("x")}, http.StatusBadRequest},
		{fmt.Errorf("%w: mv_limit=1000", dps.ErrOutOfRange), http.StatusBadRequest},
		{dps.ErrNotConnected, http.StatusServiceUnavailable},
		{dps.ErrTimeout, http.StatusGatewayTimeout},
		{&dps.CRCError{Expected: 1, Received: 2}, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: got STATUS", dps.ErrUnexpectedResponse), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAPI_Disconnected(t *testing.T) {
	s, _ := testSession(t)
	router := newAPI(s).router()
	require.NoError(t, s.Disconnect())

	rec := do(t, router, "POST", "/mode/dual", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, "GET", "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase": "disconnected"`)
}
