package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCountersIncrementAndExport(t *testing.T) {
	m := New()
	m.SessionsCreated.Inc()
	m.SessionsCreated.Inc()
	m.MessagesInbound.Inc()
	m.ProtocolErrors.WithLabelValues("MalformedJSON").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("metrics handler status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "thinserve_sessions_created_total 2") {
		t.Errorf("exported metrics missing sessions_created_total=2:\n%s", body)
	}
	if !strings.Contains(body, `thinserve_protocol_errors_total{kind="MalformedJSON"} 1`) {
		t.Errorf("exported metrics missing protocol_errors_total by kind:\n%s", body)
	}
}

func TestIndependentRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.SessionsCreated.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	if strings.Contains(rec.Body.String(), "thinserve_sessions_created_total 1") {
		t.Error("second M's registry observed the first M's counter increment")
	}
}
