package httpapi

import (
	"expvar"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /drugs", app.getDrugHandler)
	mux.HandleFunc("GET /lookup", app.lookupHandler)
	mux.HandleFunc("GET /catalog", app.catalogHandler)
	mux.HandleFunc("GET /pharmacies/nearest", app.nearestHandler)
	mux.HandleFunc("POST /alerts", app.createAlertHandler)
	mux.HandleFunc("GET /alerts", app.listAlertsHandler)
	mux.HandleFunc("DELETE /alerts/{id}", app.deleteAlertHandler)
	mux.HandleFunc("POST /alerts/{id}/deactivate", app.deactivateAlertHandler)
	mux.HandleFunc("POST /checks", app.postCheckHandler)
	mux.HandleFunc("GET /healthz", app.healthHandler)
	mux.HandleFunc("GET /debug/metrics", app.metricsHandler)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /openapi.yaml", app.openapiHandler)
	mux.HandleFunc("GET /docs", app.docsHandler)
	return WithRequestID(WithLogging(WithMetrics(mux)))
}
