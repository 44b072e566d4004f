package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flowpbx/callgate/internal/gatekeeper"
)

type fakeCounter struct {
	n   int64
	err error
}

func (f fakeCounter) Count(context.Context) (int64, error) { return f.n, f.err }

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(body)
}

func TestRecorderDecisions(t *testing.T) {
	r := NewRecorder()

	r.ObserveDecision(gatekeeper.KnownTransfer)
	r.ObserveDecision(gatekeeper.KnownTransfer)
	r.ObserveDecision(gatekeeper.SpamReject)
	r.ObserveLookupError()

	if got := testutil.ToFloat64(r.decisions.WithLabelValues("KNOWN_TRANSFER")); got != 2 {
		t.Errorf("KNOWN_TRANSFER = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.decisions.WithLabelValues("SPAM_REJECT")); got != 1 {
		t.Errorf("SPAM_REJECT = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.lookupErrors); got != 1 {
		t.Errorf("lookup errors = %v, want 1", got)
	}

	body := scrape(t, r)
	if !strings.Contains(body, `callgate_decisions_total{verdict="UNKNOWN_SCREEN"} 0`) {
		t.Error("zero-valued verdict series not exported")
	}
}

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()

	r.ObserveWebhookAuthFailure("/gatekeeper/route")
	r.ObserveContactsSynced(5, 2)
	r.ObserveContactsSynced(1, 0)
	r.ObserveVoiceToken()

	if got := testutil.ToFloat64(r.webhookFailures.WithLabelValues("/gatekeeper/route")); got != 1 {
		t.Errorf("webhook failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.contactsSynced.WithLabelValues("synced")); got != 6 {
		t.Errorf("synced = %v, want 6", got)
	}
	if got := testutil.ToFloat64(r.contactsSynced.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.voiceTokens); got != 1 {
		t.Errorf("voice tokens = %v, want 1", got)
	}
}

func TestCollectorContacts(t *testing.T) {
	r := NewRecorder(NewCollector(fakeCounter{n: 42}, time.Now()))

	body := scrape(t, r)
	if !strings.Contains(body, "callgate_contacts 42") {
		t.Errorf("contacts gauge missing from scrape:\n%s", body)
	}
	if !strings.Contains(body, "callgate_uptime_seconds") {
		t.Error("uptime gauge missing from scrape")
	}
}

func TestCollectorCountError(t *testing.T) {
	c := NewCollector(fakeCounter{err: errors.New("db down")}, time.Now())

	// Only uptime is emitted when the count fails.
	if n := testutil.CollectAndCount(c); n != 1 {
		t.Errorf("collected %d metrics, want 1", n)
	}
}

func TestCollectorNilCounter(t *testing.T) {
	c := NewCollector(nil, time.Now())
	if n := testutil.CollectAndCount(c, "callgate_contacts"); n != 0 {
		t.Errorf("collected %d contact metrics, want 0", n)
	}
}
