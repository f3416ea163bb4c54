// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an HTTP API for the supply",
	Long: `Connect to the supply and serve its state and controls over HTTP.

Endpoints:
  GET  /state                     current snapshot and anomalies
  GET  /stats                     link statistics
  POST /mode/{series|dual|master-slave}
  POST /output/{master|slave}/{on|off}
  PUT  /limits                    JSON body, e.g. {"mv_limit": 12.5}; omitted limits are kept
  GET  /metrics                   Prometheus metrics

The state is refreshed by the status poller (--poll-interval).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8000", "HTTP listen address (or port number)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, connInfo, err := openSession(ctx, sessionConfig())
	if err != nil {
		return err
	}
	defer s.Disconnect()

	// accept :[portnum] as well as [portnum]
	addr := serveListen
	if i, err := strconv.Atoi(addr); err == nil {
		addr = fmt.Sprintf(":%d", i)
	}

	h := &http.Server{
		Addr:              addr,
		Handler:           newAPI(s).router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.ListenAndServe() }()
	log.WithField("connection", connInfo).Infof("Serving on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// api serves one session over HTTP
type api struct {
	session *dps.Session
	metrics http.Handler
}

func newAPI(s *dps.Session) *api {
	return &api{
		session: s,
		metrics: metricsHandler(newRegistry(s)),
	}
}

func (a *api) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/state", a.getState).Methods("GET")
	router.HandleFunc("/stats", a.getStats).Methods("GET")
	router.HandleFunc("/mode/{mode}", a.setMode).Methods("POST")
	router.HandleFunc("/output/{channel}/{state}", a.setOutput).Methods("POST")
	router.HandleFunc("/limits", a.setLimits).Methods("PUT")
	router.Handle("/metrics", a.metrics).Methods("GET")
	return router
}

type stateResponse struct {
	Phase     string    `json:"phase"`
	Mode      string    `json:"mode_name"`
	Control   string    `json:"control_name"`
	State     dps.State `json:"state"`
	Anomalies []string  `json:"anomalies"`
}

func (a *api) stateResponse() stateResponse {
	st := a.session.Snapshot()
	rsp := stateResponse{
		Phase:     a.session.Phase().String(),
		Mode:      st.Mode.String(),
		Control:   st.ControlMode.String(),
		State:     st,
		Anomalies: []string{},
	}
	for _, v := range dps.ValidateState(st) {
		rsp.Anomalies = append(rsp.Anomalies, v.Message)
	}
	return rsp
}

func (a *api) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stateResponse())
}

func (a *api) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Statistics())
}

func (a *api) setMode(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	if err := applyMode(r.Context(), a.session, params["mode"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.stateResponse())
}

func (a *api) setOutput(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	on, err := parseSwitch(params["state"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := applyOutput(r.Context(), a.session, params["channel"], on); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.stateResponse())
}

func (a *api) setLimits(w http.ResponseWriter, r *http.Request) {
	var o limitOverrides
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&o); err != nil {
		writeError(w, badRequest{err})
		return
	}
	if o.empty() {
		writeError(w, badRequest{errors.New("no limits given")})
		return
	}

	limits := mergeLimits(a.session.Snapshot().Limits, o)
	if err := a.session.SetControlValues(r.Context(), limits); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.Snapshot().Limits)
}

// badRequest marks errors caused by the request itself
type badRequest struct{ error }

func (b badRequest) Unwrap() error { return b.error }

// statusFor maps an error to an HTTP status code
func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, dps.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, dps.ErrNotConnected):
		return http.StatusServiceUnavailable
	case dps.IsDropped(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, dps.ErrUnexpectedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Warn("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	if err := e.Encode(v); err != nil {
		log.WithError(err).Debug("Writing response failed")
	}
}
