// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"net/http"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRegistry creates a registry with the runtime collectors and the supply
// collector for s
func newRegistry(s *dps.Session) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newSupplyCollector(s),
	)
	return reg
}

// metricsHandler returns the Prometheus HTTP handler for reg
func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// supplyCollector exports the session snapshot and link counters at scrape
// time, so values are never older than the last poll
type supplyCollector struct {
	session *dps.Session

	voltage      *prometheus.Desc
	current      *prometheus.Desc
	voltageLimit *prometheus.Desc
	currentLimit *prometheus.Desc
	enabled      *prometheus.Desc
	limiting     *prometheus.Desc
	temperature  *prometheus.Desc
	mode         *prometheus.Desc
	connected    *prometheus.Desc
	lastUpdate   *prometheus.Desc

	requests *prometheus.Desc
	errors   *prometheus.Desc
	rtt      *prometheus.Desc
}

func newSupplyCollector(s *dps.Session) *supplyCollector {
	channel := []string{"channel"}
	return &supplyCollector{
		session:      s,
		voltage:      prometheus.NewDesc("dps_output_voltage_volts", "Measured output voltage.", channel, nil),
		current:      prometheus.NewDesc("dps_output_current_amperes", "Measured output current.", channel, nil),
		voltageLimit: prometheus.NewDesc("dps_voltage_limit_volts", "Configured voltage limit.", channel, nil),
		currentLimit: prometheus.NewDesc("dps_current_limit_amperes", "Configured current limit.", channel, nil),
		enabled:      prometheus.NewDesc("dps_output_enabled", "1 if the output is out of standby.", channel, nil),
		limiting:     prometheus.NewDesc("dps_output_current_limiting", "1 if the output regulates current.", channel, nil),
		temperature:  prometheus.NewDesc("dps_temperature_celsius", "Internal temperature.", []string{"sensor"}, nil),
		mode:         prometheus.NewDesc("dps_mode", "Raw mode bitmask.", nil, nil),
		connected:    prometheus.NewDesc("dps_connected", "1 if the session is ready.", nil, nil),
		lastUpdate:   prometheus.NewDesc("dps_last_update_timestamp_seconds", "Time of the last applied response.", nil, nil),
		requests:     prometheus.NewDesc("dps_link_requests_total", "Request/response round trips.", nil, nil),
		errors:       prometheus.NewDesc("dps_link_errors_total", "Failed round trips by cause.", []string{"cause"}, nil),
		rtt:          prometheus.NewDesc("dps_link_round_trip_seconds", "Round trip time of the last valid exchange.", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *supplyCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.voltage, c.current, c.voltageLimit, c.currentLimit, c.enabled, c.limiting,
		c.temperature, c.mode, c.connected, c.lastUpdate, c.requests, c.errors, c.rtt,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *supplyCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.session.Statistics()
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(stats.Requests))
	for cause, n := range map[string]uint64{
		"crc":       stats.CRCErrors,
		"timeout":   stats.Timeouts,
		"malformed": stats.MalformedFrames,
		"short":     stats.ShortPayloads,
		"transport": stats.TransportErrors,
	} {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n), cause)
	}
	ch <- prometheus.MustNewConstMetric(c.rtt, prometheus.GaugeValue, stats.LastRoundTrip.Seconds())

	connected := c.session.Phase() == dps.PhaseReady
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, boolValue(connected))
	if !connected {
		return
	}

	st := c.session.Snapshot()
	channels := []struct {
		name             string
		v, i             float64
		vLimit, iLimit   float64
		enabled, limited bool
	}{
		{"master", st.MasterVoltage, st.MasterCurrent, st.Limits.MasterVoltage, st.Limits.MasterCurrent,
			st.MasterEnabled(), st.ControlMode.Has(dps.ControlMasterCurrent)},
		{"slave", st.SlaveVoltage, st.SlaveCurrent, st.Limits.SlaveVoltage, st.Limits.SlaveCurrent,
			st.SlaveEnabled(), st.ControlMode.Has(dps.ControlSlaveCurrent)},
	}
	for _, o := range channels {
		ch <- prometheus.MustNewConstMetric(c.voltage, prometheus.GaugeValue, o.v, o.name)
		ch <- prometheus.MustNewConstMetric(c.current, prometheus.GaugeValue, o.i, o.name)
		ch <- prometheus.MustNewConstMetric(c.voltageLimit, prometheus.GaugeValue, o.vLimit, o.name)
		ch <- prometheus.MustNewConstMetric(c.currentLimit, prometheus.GaugeValue, o.iLimit, o.name)
		ch <- prometheus.MustNewConstMetric(c.enabled, prometheus.GaugeValue, boolValue(o.enabled), o.name)
		ch <- prometheus.MustNewConstMetric(c.limiting, prometheus.GaugeValue, boolValue(o.limited), o.name)
	}

	ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, float64(st.TempAmplifier), "amplifier")
	ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, float64(st.TempTransformer), "transformer")
	ch <- prometheus.MustNewConstMetric(c.mode, prometheus.GaugeValue, float64(st.Mode))
	if !st.LastUpdate.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue, float64(st.LastUpdate.UnixNano())/1e9)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
