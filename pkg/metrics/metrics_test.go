package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	// must not panic
	c.RecordOutcome("completed")
	c.RecordRetry()
	c.RecordChallenge(true)
	c.RecordStep("create", "ok")
}

func TestCollectorExposition(t *testing.T) {
	c := NewCollector()
	c.RecordOutcome("completed")
	c.RecordOutcome("completed")
	c.RecordOutcome("failed")
	c.RecordRetry()
	c.RecordChallenge(true)
	c.RecordChallenge(false)
	c.RecordStep("list", "transient")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`batchmint_records_total{outcome="completed"} 2`,
		`batchmint_records_total{outcome="failed"} 1`,
		`batchmint_retries_total 1`,
		`batchmint_challenges_total{result="solved"} 1`,
		`batchmint_challenges_total{result="failed"} 1`,
		`batchmint_steps_total{result="transient",step="list"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}

func TestCollectorsAreIsolated(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.RecordRetry()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "batchmint_retries_total 1") {
		t.Error("registries must be independent per collector")
	}
}
