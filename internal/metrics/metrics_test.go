package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"markethours/internal/domain"
)

func find(t *testing.T, c *Collector, name string) *dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestObserveReceipt(t *testing.T) {
	c := NewCollector()
	c.ObserveReceipt(&domain.Receipt{Instruction: "crank_oracle", Success: true, UnixTimestamp: 1704119700, Reward: 10_000_000})
	c.ObserveReceipt(&domain.Receipt{Instruction: "crank_oracle", Success: true, UnixTimestamp: 1704121200})
	c.ObserveReceipt(&domain.Receipt{Instruction: "create_oracle", Success: false, Reward: 5})

	calls := find(t, c, "markethours_engine_calls_total")
	if calls == nil {
		t.Fatal("calls_total not registered")
	}
	var total float64
	for _, m := range calls.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("calls_total = %v, want 3", total)
	}

	rewards := find(t, c, "markethours_oracle_rewards_total")
	if got := rewards.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("rewards_total = %v, want 1", got)
	}
	lamports := find(t, c, "markethours_oracle_reward_lamports_total")
	if got := lamports.GetMetric()[0].GetCounter().GetValue(); got != 10_000_000 {
		t.Errorf("reward_lamports_total = %v, want 1e7", got)
	}
	last := find(t, c, "markethours_oracle_last_crank_unix_seconds")
	if got := last.GetMetric()[0].GetGauge().GetValue(); got != 1704121200 {
		t.Errorf("last_crank = %v", got)
	}
}

func TestVaultBalanceGauge(t *testing.T) {
	c := NewCollector()
	c.RegisterVaultBalance(func() float64 { return 42 })
	mf := find(t, c, "markethours_oracle_vault_balance_lamports")
	if mf == nil {
		t.Fatal("vault gauge not registered")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 42 {
		t.Errorf("vault balance = %v, want 42", got)
	}
}

func TestInstrumentHandler(t *testing.T) {
	c := NewCollector()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/clock", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.Handle("GET /metrics", c.Handler())
	h := c.InstrumentHandler(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/clock", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	mf := find(t, c, "markethours_http_requests_total")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatal("expected one request series")
	}
	labels := map[string]string{}
	for _, l := range mf.GetMetric()[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["path"] != "GET /api/v1/clock" || labels["status"] != "418" {
		t.Errorf("labels = %v", labels)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "markethours_http_requests_total") {
		t.Error("metrics endpoint missing request counter")
	}
}
