package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fairyhunter13/drug-price-aggregator/internal/aggregate"
	"github.com/fairyhunter13/drug-price-aggregator/internal/catalog"
	"github.com/fairyhunter13/drug-price-aggregator/internal/config"
	"github.com/fairyhunter13/drug-price-aggregator/internal/geo"
	"github.com/fairyhunter13/drug-price-aggregator/internal/lookup"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/provider"
	"github.com/fairyhunter13/drug-price-aggregator/internal/queue"
	"github.com/fairyhunter13/drug-price-aggregator/internal/refdata"
	"github.com/fairyhunter13/drug-price-aggregator/internal/store"
)

type ackResp struct {
	Status      string `json:"status"`
	RequestID   string `json:"request_id"`
	Sequence    uint64 `json:"sequence"`
	Coalesced   bool   `json:"coalesced"`
	DrugName    string `json:"drug_name"`
	QueueDepth  int    `json:"queue_depth"`
	WorkerCount int    `json:"worker_count"`
}

func setupApp(t *testing.T) (*App, *queue.Manager, context.CancelFunc, http.Handler) {
	t.Helper()
	cfg := config.Load()
	ref, err := refdata.Default()
	if err != nil {
		t.Fatalf("refdata: %v", err)
	}
	static := provider.NewStatic("reference", ref.Prices)
	agg := aggregate.New([]provider.Provider{static}, aggregate.Options{Timeout: time.Second, Keywords: &ref.Keywords})
	cat := catalog.New(ref.Catalog, cfg.SearchLimit)
	st := store.New()
	svc := lookup.New(cat, agg, st, ref.Foreign)

	mgr := queue.NewManager(cfg, queue.New(128), svc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	app := NewApp(cfg)
	app.Aggregator = agg
	app.Catalog = cat
	app.Ranker = geo.NewRanker(ref.Pharmacies.Local, ref.Pharmacies.Regional, geo.Options{})
	app.Alerts = st
	app.Lookup = svc
	app.Manager = mgr
	return app, mgr, func() { cancel(); mgr.Stop() }, NewRouter(app)
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestOpenAPIServed(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodGet, "/openapi.yaml", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("openapi:")) {
		t.Fatalf("expected openapi content")
	}
}

func TestDocsServed(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodGet, "/docs", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "swagger-ui") {
		t.Fatalf("unexpected docs response %d", rr.Code)
	}
}

func TestHealthzAndShutdown(t *testing.T) {
	app, _, cleanup, mux := setupApp(t)
	defer cleanup()
	if rr := do(mux, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	app.StartShutdown()
	if rr := do(mux, http.MethodGet, "/healthz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr := do(mux, http.MethodPost, "/checks", `{"drug_name":"Ibuprofen"}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestGetDrug(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodGet, "/drugs?q=Ibuprofen", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rec model.DrugRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rec.Found || rec.PriceMin == nil || *rec.PriceMin != 1850000 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.PrescriptionRequired != model.No {
		t.Fatalf("expected OTC classification, got %v", rec.PrescriptionRequired)
	}

	if rr := do(mux, http.MethodGet, "/drugs?q=%20", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetDrugRecordsPriceOnAlerts(t *testing.T) {
	app, _, cleanup, mux := setupApp(t)
	defer cleanup()
	id, err := app.Alerts.Create(context.Background(), "u1", "ibuprofen", 2000000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rr := do(mux, http.MethodGet, "/drugs?q=Ibuprofen", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	a, ok := app.Alerts.Get(id)
	if !ok || a.LastObservedPrice == nil || *a.LastObservedPrice != 1850000 {
		t.Fatalf("alert not evaluated by GET /drugs: %+v", a)
	}
}

func TestLookupMissCarriesSuggestions(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodGet, "/lookup?q=Unobtainium", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var res lookup.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Drug == nil || res.Drug.Found || res.Suggestions == nil || len(res.Suggestions.Delivery) == 0 {
		t.Fatalf("unexpected lookup result: %+v", res)
	}
}

func TestLookupValidation(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	for _, target := range []string{"/lookup", "/lookup?q=x&category=herbal", "/lookup?q=ibuprofen&force=maybe"} {
		if rr := do(mux, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestCatalogSearch(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodGet, "/catalog?q=paratsetamol", "")
	var out []model.CatalogRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].Annulled || !out[1].Annulled {
		t.Fatalf("expected active and annulled record, got %+v", out)
	}
	rr = do(mux, http.MethodGet, "/catalog?q=zzz", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestNearestPharmacies(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodGet, "/pharmacies/nearest?lat=41.3111&lon=69.2797&radius_km=20", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out []model.NearbyPharmacy
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) < 3 || out[0].Pharmacy.Name != "Dorixona 24" {
		t.Fatalf("unexpected result: %+v", out)
	}
	for i := 1; i < len(out); i++ {
		if out[i].DistanceKm < out[i-1].DistanceKm {
			t.Fatalf("not ascending at %d", i)
		}
	}
	for _, target := range []string{"/pharmacies/nearest?lat=91&lon=0", "/pharmacies/nearest?lat=x&lon=0", "/pharmacies/nearest?lat=1&lon=1&radius_km=-1"} {
		if rr := do(mux, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestAlertLifecycle(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	rr := do(mux, http.MethodPost, "/alerts", `{"user_id":"u1","drug_name":"Ibuprofen","target_price":2000000}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	id := created["id"]
	if id == "" {
		t.Fatalf("missing id")
	}

	rr = do(mux, http.MethodGet, "/lookup?q=Ibuprofen&force=true", "")
	var res lookup.Result
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if len(res.Fired) != 1 || res.Fired[0].ID != id {
		t.Fatalf("expected alert to fire: %+v", res.Fired)
	}

	rr = do(mux, http.MethodGet, "/alerts?user_id=u1", "")
	var list []model.PriceAlert
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list) != 1 || list[0].LastObservedPrice == nil || *list[0].LastObservedPrice != 1850000 {
		t.Fatalf("unexpected list: %+v", list)
	}

	if rr := do(mux, http.MethodDelete, "/alerts/"+id+"?user_id=u2", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("other user: expected 404, got %d", rr.Code)
	}
	if rr := do(mux, http.MethodPost, "/alerts/"+id+"/deactivate?user_id=u1", ""); rr.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d", rr.Code)
	}
	if rr := do(mux, http.MethodDelete, "/alerts/"+id+"?user_id=u1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = do(mux, http.MethodGet, "/alerts?user_id=u1", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rr.Body.String())
	}
}

func TestCreateAlertValidation(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	for _, body := range []string{
		`{"user_id":"u1","drug_name":"","target_price":1}`,
		`{"user_id":"u1","drug_name":"X","target_price":0}`,
		`{"user_id":"u1","drug_name":"X","target_price":1,"foo":1}`,
		`{"user_id":"u1",`,
	} {
		if rr := do(mux, http.MethodPost, "/alerts", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
	r := httptest.NewRequest(http.MethodPost, "/alerts", bytes.NewBufferString("{}"))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestPostCheckAndMetrics(t *testing.T) {
	_, mgr, cleanup, mux := setupApp(t)
	defer cleanup()
	r := httptest.NewRequest(http.MethodPost, "/checks", bytes.NewBufferString(`{"drug_name":"Setirizin"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Request-Id", "test-req-1")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, r)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var ac ackResp
	if err := json.Unmarshal(rr.Body.Bytes(), &ac); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ac.RequestID != "test-req-1" || ac.DrugName != "Setirizin" || ac.Sequence == 0 || ac.Coalesced {
		t.Fatalf("unexpected ack: %+v", ac)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !mgr.DrainUntil(ctx) {
		t.Fatalf("drain timeout")
	}

	rr = do(mux, http.MethodGet, "/debug/metrics", "")
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("metrics json decode: %v", err)
	}
	for _, k := range []string{"worker_count", "queue_depth", "checks_processed", "checks_coalesced", "catalog_active"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %s", k)
		}
	}

	rr = do(mux, http.MethodGet, "/metrics", "")
	if !strings.Contains(rr.Body.String(), "drugprice_http_requests_total") {
		t.Fatalf("expected prometheus http counter")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, cleanup, mux := setupApp(t)
	defer cleanup()
	if rr := do(mux, http.MethodPost, "/catalog", "{}"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
