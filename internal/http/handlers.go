package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/drug-price-aggregator/internal/aggregate"
	"github.com/fairyhunter13/drug-price-aggregator/internal/catalog"
	"github.com/fairyhunter13/drug-price-aggregator/internal/config"
	"github.com/fairyhunter13/drug-price-aggregator/internal/geo"
	httpopenapi "github.com/fairyhunter13/drug-price-aggregator/internal/http/openapi"
	"github.com/fairyhunter13/drug-price-aggregator/internal/lookup"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
	"github.com/fairyhunter13/drug-price-aggregator/internal/queue"
	"github.com/fairyhunter13/drug-price-aggregator/internal/store"
)

// DefaultNearestRadiusKm applies when radius_km is omitted.
const DefaultNearestRadiusKm = 5.0

type App struct {
	Cfg        config.Config
	Aggregator *aggregate.Aggregator
	Catalog    *catalog.Catalog
	Ranker     *geo.Ranker
	Alerts     *store.Store
	Lookup     *lookup.Service
	Manager    *queue.Manager
	closing    atomic.Bool
	started    time.Time
}

type checkAck struct {
	Status      string `json:"status"`
	RequestID   string `json:"request_id"`
	Sequence    uint64 `json:"sequence"`
	Coalesced   bool   `json:"coalesced"`
	DrugName    string `json:"drug_name"`
	ReceivedAt  string `json:"received_at"`
	QueueDepth  int    `json:"queue_depth"`
	BacklogSize int    `json:"backlog_size"`
	WorkerCount int    `json:"worker_count"`
}

type createAlertRequest struct {
	UserID      string `json:"user_id"`
	DrugName    string `json:"drug_name"`
	TargetPrice int64  `json:"target_price"`
}

type checkRequest struct {
	DrugName string `json:"drug_name"`
}

func NewApp(cfg config.Config) *App {
	return &App{Cfg: cfg, started: time.Now()}
}

func (a *App) StartShutdown() {
	a.closing.Store(true)
	if a.Manager != nil {
		a.Manager.CloseIntake()
	}
}

func (a *App) getDrugHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := requiredQuery(w, r, "q")
	if !ok {
		return
	}
	rec, fired := a.Lookup.Check(r.Context(), q)
	if len(fired) > 0 {
		obs.Logger.Info("drug_price_alerts_fired",
			"request_id", RequestIDFromContext(r.Context()),
			"drug_name", q,
			"count", len(fired),
		)
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) lookupHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := requiredQuery(w, r, "q")
	if !ok {
		return
	}
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "force must be a boolean")
			return
		}
		force = b
	}
	res := a.Lookup.Lookup(r.Context(), lookup.Request{Query: q, Category: cat, Force: force})
	writeJSON(w, http.StatusOK, res)
}

func (a *App) catalogHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := requiredQuery(w, r, "q")
	if !ok {
		return
	}
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	out := a.Catalog.Search(q, cat)
	if out == nil {
		out = []model.CatalogRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) nearestHandler(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	lat, err1 := strconv.ParseFloat(qs.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(qs.Get("lon"), 64)
	if err1 != nil || err2 != nil || !geo.ValidCoordinates(lat, lon) {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "lat and lon must be valid coordinates")
		return
	}
	radius := DefaultNearestRadiusKm
	if v := qs.Get("radius_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "radius_km must be a non-negative number")
			return
		}
		radius = f
	}
	out := a.Ranker.Nearest(lat, lon, radius)
	if out == nil {
		out = []model.NearbyPharmacy{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) createAlertHandler(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := a.Alerts.Create(r.Context(), req.UserID, req.DrugName, req.TargetPrice)
	if errors.Is(err, store.ErrInvalidAlert) {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "user_id, drug_name and a positive target_price are required")
		return
	}
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	obs.Logger.Info("alert_created",
		"request_id", RequestIDFromContext(r.Context()),
		"alert_id", id,
		"user_id", req.UserID,
		"drug_name", req.DrugName,
	)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requiredQuery(w, r, "user_id")
	if !ok {
		return
	}
	out := a.Alerts.List(user)
	if out == nil {
		out = []model.PriceAlert{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) deleteAlertHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requiredQuery(w, r, "user_id")
	if !ok {
		return
	}
	if !a.Alerts.Remove(r.Context(), user, r.PathValue("id")) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) deactivateAlertHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requiredQuery(w, r, "user_id")
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !a.Alerts.Deactivate(r.Context(), user, id) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	al, _ := a.Alerts.Get(id)
	writeJSON(w, http.StatusOK, al)
}

func (a *App) postCheckHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() || a.Manager.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	var req checkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.DrugName)
	if name == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "drug_name is required")
		return
	}
	ticket, ok := a.Manager.Enqueue(name)
	if !ok {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ac := checkAck{
		Status:      "accepted",
		RequestID:   RequestIDFromContext(r.Context()),
		Sequence:    ticket.Sequence,
		Coalesced:   ticket.Coalesced,
		DrugName:    name,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
		QueueDepth:  a.Manager.QueueDepth(),
		BacklogSize: a.Manager.BacklogSize(),
		WorkerCount: a.Manager.WorkerCount(),
	}
	writeJSON(w, http.StatusAccepted, ac)
	obs.Logger.Info("check_accepted",
		"request_id", ac.RequestID,
		"sequence", ac.Sequence,
		"coalesced", ac.Coalesced,
		"drug_name", ac.DrugName,
		"queue_depth", ac.QueueDepth,
		"worker_count", ac.WorkerCount,
	)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if a.closing.Load() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	m := map[string]any{
		"uptime_sec": time.Since(a.started).Seconds(),
		"sources":    a.Aggregator.Sources(),
	}
	if a.Catalog != nil {
		active, annulled := a.Catalog.Counts()
		m["catalog_active"] = active
		m["catalog_annulled"] = annulled
	}
	if a.Manager != nil {
		enq, proc, backlog, depth := a.Manager.QueueMetrics()
		m["checks_enqueued"] = enq
		m["checks_processed"] = proc
		m["checks_coalesced"] = a.Manager.CoalescedChecks()
		m["backlog_size"] = backlog
		m["queue_depth"] = depth
		m["worker_count"] = a.Manager.WorkerCount()
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsHTML))
}

const docsHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Drug Price Aggregator API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`

func requiredQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", name+" is required")
		return "", false
	}
	return v, true
}

func categoryParam(w http.ResponseWriter, r *http.Request) (model.Category, bool) {
	cat, ok := model.ParseCategory(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category"))))
	if !ok {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "category must be one of substance, invivo, technology, diagnostic")
		return model.CategoryAny, false
	}
	return cat, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
