package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phenomenon0/edgetrader/pkg/retry"
	"github.com/phenomenon0/edgetrader/pkg/trader/events"
)

// oneShot disables retries so failure-counter tests count deliveries, not
// attempts.
var oneShot = retry.Policy{MaxAttempts: 1}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDeliverySignedPayload(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
	}))
	defer srv.Close()

	d := NewDispatcher(Config{Workers: 1})
	defer d.Close()

	d.Subscribe(srv.URL, "topsecret", events.PickCreated)
	d.Publish(events.New(events.PickCreated, "c1", map[string]string{"id": "p1"}))

	select {
	case r := <-received:
		body := <-bodies
		sig := r.Header.Get("X-Webhook-Signature")
		if sig == "" {
			t.Fatal("missing X-Webhook-Signature")
		}
		if !hmac.Equal([]byte(sig), []byte(Sign("topsecret", body))) {
			t.Error("signature does not verify against the body")
		}

		var e events.Event
		if err := json.Unmarshal(body, &e); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if e.Type != events.PickCreated || e.CorrelationID != "c1" {
			t.Errorf("payload = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestTypeFiltering(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{Workers: 1})
	defer d.Close()

	d.Subscribe(srv.URL, "", events.PickSettled)
	d.Publish(events.New(events.PickCreated, "c1", nil))
	d.Publish(events.New(events.PickSettled, "c2", nil))

	waitFor(t, func() bool { return atomic.LoadInt64(&hits) == 1 })
	// Give a mis-delivered pick.created a chance to show up.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestAutoDeactivationAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{Workers: 1, MaxFailures: 5, Retry: oneShot})
	defer d.Close()

	sub := d.Subscribe(srv.URL, "")
	for i := 0; i < 5; i++ {
		d.Publish(events.New(events.PickCreated, "c", nil))
	}

	waitFor(t, func() bool {
		for _, s := range d.Subscriptions() {
			if s.ID == sub.ID && !s.Active && s.Failures == 5 {
				return true
			}
		}
		return false
	})

	// Deactivated subscriptions receive nothing further.
	d.Publish(events.New(events.PickCreated, "c", nil))
	time.Sleep(50 * time.Millisecond)
	for _, s := range d.Subscriptions() {
		if s.ID == sub.ID && s.Failures != 5 {
			t.Errorf("failures = %d after deactivation, want 5", s.Failures)
		}
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(Config{Workers: 1, MaxFailures: 5, Retry: oneShot})
	defer d.Close()

	sub := d.Subscribe(srv.URL, "")

	// Three failures, then a success, then three more failures: the
	// subscription stays active because the counter reset in between.
	for i := 0; i < 3; i++ {
		d.Publish(events.New(events.PickCreated, "c", nil))
	}
	waitFor(t, func() bool {
		for _, s := range d.Subscriptions() {
			if s.ID == sub.ID && s.Failures == 3 {
				return true
			}
		}
		return false
	})

	fail.Store(false)
	d.Publish(events.New(events.PickCreated, "c", nil))
	waitFor(t, func() bool {
		for _, s := range d.Subscriptions() {
			if s.ID == sub.ID && s.Failures == 0 {
				return true
			}
		}
		return false
	})

	fail.Store(true)
	for i := 0; i < 3; i++ {
		d.Publish(events.New(events.PickCreated, "c", nil))
	}
	waitFor(t, func() bool {
		for _, s := range d.Subscriptions() {
			if s.ID == sub.ID && s.Failures == 3 {
				return true
			}
		}
		return false
	})

	for _, s := range d.Subscriptions() {
		if s.ID == sub.ID && !s.Active {
			t.Error("subscription deactivated despite non-consecutive failures")
		}
	}
}

func TestTransientFailureRetriedAndDelivered(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(Config{
		Workers: 1,
		Retry:   retry.Policy{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	})
	defer d.Close()

	sub := d.Subscribe(srv.URL, "")
	d.Publish(events.New(events.PickCreated, "c", nil))

	// One 500, then a redelivery that lands.
	waitFor(t, func() bool { return atomic.LoadInt64(&attempts) == 2 })
	for _, s := range d.Subscriptions() {
		if s.ID == sub.ID && s.Failures != 0 {
			t.Errorf("failures = %d after an eventually-successful delivery, want 0", s.Failures)
		}
	}
}

func TestExhaustedRetriesCountOneFailure(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{
		Workers: 1,
		Retry:   retry.Policy{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	})
	defer d.Close()

	sub := d.Subscribe(srv.URL, "")
	d.Publish(events.New(events.PickCreated, "c", nil))

	waitFor(t, func() bool {
		for _, s := range d.Subscriptions() {
			if s.ID == sub.ID && s.Failures == 1 {
				return true
			}
		}
		return false
	})
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestReactivate(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1})
	defer d.Close()

	sub := d.Subscribe("http://127.0.0.1:0/unreachable", "")
	d.mu.Lock()
	d.subs[sub.ID].Active = false
	d.subs[sub.ID].Failures = 5
	d.mu.Unlock()

	if !d.Reactivate(sub.ID) {
		t.Fatal("Reactivate returned false for an existing subscription")
	}
	for _, s := range d.Subscriptions() {
		if s.ID == sub.ID && (!s.Active || s.Failures != 0) {
			t.Errorf("after reactivation: active=%v failures=%d", s.Active, s.Failures)
		}
	}

	if d.Reactivate("missing") {
		t.Error("Reactivate returned true for an unknown subscription")
	}
}
