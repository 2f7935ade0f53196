package api

import (
	"net/http"
)

// HealthHandler returns 200 if the process is serving.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReadyHandler returns 200 once the first reconciliation pass finished.
func (a *API) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	h := a.daemon.Health()
	if h.LastFinishedAt.IsZero() {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "reconciler starting"})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReconcileHealth reports the outcome of recent reconciliation passes.
func (a *API) ReconcileHealth(w http.ResponseWriter, r *http.Request) {
	h := a.daemon.Health()
	WriteData(w, http.StatusOK, ReconcileHealthResponse{ReconcileHealth: h, Healthy: h.Healthy()})
}
