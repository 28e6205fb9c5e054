package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func counterValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label == "" {
				return metric.GetCounter().GetValue()
			}
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.ObserveMessage("answer", 5*time.Millisecond)
	m.ObserveMessage("answer", time.Millisecond)
	m.IncEvent("flowStarted")
	m.IncSend(errors.New("boom"))
	m.IncInconsistency()
	m.ObserveReload(nil, 2)

	if got := counterValue(t, m, "flowbot_messages_total", "outcome", "answer"); got != 2 {
		t.Fatalf("messages = %v", got)
	}
	if got := counterValue(t, m, "flowbot_sends_total", "status", "error"); got != 1 {
		t.Fatalf("sends = %v", got)
	}
	if got := counterValue(t, m, "flowbot_persistence_inconsistencies_total", "", ""); got != 1 {
		t.Fatalf("inconsistencies = %v", got)
	}
}

func TestTransportCounters(t *testing.T) {
	m := New()
	m.IncUpdate("callback")
	m.ObserveTransportStart(errors.New("getMe failed"))
	m.ObserveTransportStart(nil)
	if got := counterValue(t, m, "flowbot_transport_updates_total", "kind", "callback"); got != 1 {
		t.Fatalf("updates = %v", got)
	}
	if got := counterValue(t, m, "flowbot_transport_start_attempts_total", "status", "ok"); got != 1 {
		t.Fatalf("starts = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("x", time.Second)
	m.IncEvent("x")
	m.IncSend(nil)
	m.IncInconsistency()
	m.ObserveReload(nil, 0)
	m.SetCachedSessions(3)
	m.IncUpdate("message")
	m.SetTransportState(2)
	m.ObserveTransportStart(nil)
	if m.Registry() != nil {
		t.Fatal("nil metrics returned a registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IncEvent("flowCompleted")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `flowbot_session_events_total{kind="flowCompleted"} 1`) {
		t.Fatalf("missing event counter in:\n%s", rec.Body.String())
	}
}
