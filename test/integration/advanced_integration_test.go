package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

type checkAck struct {
	Status     string `json:"status"`
	RequestID  string `json:"request_id"`
	Sequence   uint64 `json:"sequence"`
	Coalesced  bool   `json:"coalesced"`
	ReceivedAt string `json:"received_at"`
}

func debugMetrics(t *testing.T) map[string]any {
	t.Helper()
	resp, err := http.Get(baseURL() + "/debug/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	m := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestIntegration_MetricsIncreaseAndSane(t *testing.T) {
	waitReady(t)
	before := debugMetrics(t)

	const n = 10
	for i := 0; i < n; i++ {
		resp := postJSON(t, "/checks", `{"drug_name":"Setirizin"}`)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}
	}
	time.Sleep(600 * time.Millisecond)

	after := debugMetrics(t)
	// repeats of one drug may fold into a pending check
	accepted := func(m map[string]any) float64 { return toFloat(m["checks_enqueued"]) + toFloat(m["checks_coalesced"]) }
	if accepted(after) < accepted(before)+n {
		t.Fatalf("accepted checks did not increase by %d: before=%v after=%v", n, accepted(before), accepted(after))
	}
	if toFloat(after["checks_enqueued"]) <= toFloat(before["checks_enqueued"]) {
		t.Fatalf("checks_enqueued did not increase")
	}
	if toFloat(after["checks_processed"]) < toFloat(before["checks_processed"]) {
		t.Fatalf("checks_processed went backwards")
	}
	if toFloat(after["uptime_sec"]) < 0 {
		t.Fatalf("uptime_sec negative: %v", after["uptime_sec"])
	}
	if toFloat(after["worker_count"]) <= 0 {
		t.Fatalf("worker_count should be > 0, got %v", after["worker_count"])
	}
	if toFloat(after["catalog_active"]) <= 0 {
		t.Fatalf("catalog_active should be > 0, got %v", after["catalog_active"])
	}
}

func TestIntegration_PrometheusExposition(t *testing.T) {
	waitReady(t)
	resp, err := http.Get(baseURL() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	buf := make([]byte, 1<<16)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "# TYPE") {
		t.Fatalf("expected prometheus exposition format")
	}
}

func TestIntegration_ResponseContentTypeHeaders(t *testing.T) {
	waitReady(t)
	for _, path := range []string{"/healthz", "/catalog?q=ibuprofen", "/pharmacies/nearest?lat=41.31&lon=69.28"} {
		resp, err := http.Get(baseURL() + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%s: unexpected content-type: %q", path, ct)
		}
	}
}

func TestIntegration_MethodNotAllowedOnAlertID(t *testing.T) {
	waitReady(t)
	req, _ := http.NewRequest(http.MethodPut, baseURL()+"/alerts/x", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestIntegration_AckCarriesRequestID(t *testing.T) {
	waitReady(t)
	resp := postJSON(t, "/checks", `{"drug_name":"Ibuprofen"}`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var a checkAck
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatal(err)
	}
	if a.RequestID == "" || a.Sequence == 0 {
		t.Fatalf("expected generated request_id and sequence: %+v", a)
	}
	if _, err := time.Parse(time.RFC3339Nano, a.ReceivedAt); err != nil {
		t.Fatalf("received_at not RFC3339: %q", a.ReceivedAt)
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}
