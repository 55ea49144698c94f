// Package webhook delivers ledger and executor events to external HTTP
// endpoints. Delivery is asynchronous through a bounded queue and a small
// worker pool so a slow or dead endpoint never blocks trading. A failed
// attempt is retried with capped backoff; the consecutive-failure counter
// moves only once per delivery, after the retry budget is spent.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/retry"
	"github.com/phenomenon0/edgetrader/pkg/trader/events"
	"github.com/phenomenon0/edgetrader/pkg/trader/metrics"
)

// Subscription is one registered endpoint with the event types it wants.
type Subscription struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Types     []events.Type `json:"types"`
	Secret    string        `json:"-"`
	Active    bool          `json:"active"`
	Failures  int           `json:"failures"`
	CreatedAt time.Time     `json:"created_at"`
}

func (s *Subscription) wants(t events.Type) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Config tunes the dispatcher.
type Config struct {
	// Workers is the delivery worker count.
	Workers int `yaml:"workers"`
	// QueueSize bounds the pending delivery queue.
	QueueSize int `yaml:"queue_size"`
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
	// MaxFailures deactivates a subscription after this many consecutive
	// failed deliveries. A single success resets the counter.
	MaxFailures int `yaml:"max_failures"`
	// Retry bounds the attempts for one delivery. An exhausted run counts
	// as a single consecutive failure.
	Retry retry.Policy `yaml:"-"`
}

// DefaultConfig returns the default dispatcher tuning.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   1024,
		Timeout:     5 * time.Second,
		MaxFailures: 5,
		Retry:       retry.DefaultPolicy(),
	}
}

type delivery struct {
	subID   string
	url     string
	secret  string
	payload []byte
}

// Dispatcher fans events out to active subscriptions. It implements
// events.Sink so it can be attached to the ledger directly.
type Dispatcher struct {
	cfg  Config
	http *resty.Client

	mu   sync.RWMutex
	subs map[string]*Subscription

	queue  chan delivery
	wg     sync.WaitGroup
	stop   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates and starts a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		http:   resty.New().SetTimeout(cfg.Timeout),
		subs:   make(map[string]*Subscription),
		queue:  make(chan delivery, cfg.QueueSize),
		stop:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Subscribe registers an endpoint. An empty types list subscribes to all
// event types. The secret, when set, is used to sign payloads.
func (d *Dispatcher) Subscribe(url, secret string, types ...events.Type) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		URL:       url,
		Types:     types,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
	}
	d.mu.Lock()
	d.subs[sub.ID] = sub
	d.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// Reactivate re-enables a deactivated subscription and clears its failure
// counter. This is the only way back after auto-deactivation.
func (d *Dispatcher) Reactivate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subs[id]
	if !ok {
		return false
	}
	sub.Active = true
	sub.Failures = 0
	return true
}

// Subscriptions returns a snapshot of all subscriptions.
func (d *Dispatcher) Subscriptions() []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, *s)
	}
	return out
}

// Publish implements events.Sink: it enqueues the event for every active
// matching subscription. When the queue is full the delivery is dropped
// and logged rather than blocking the caller.
func (d *Dispatcher) Publish(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Errorf("[webhook] marshal event %s: %v", e.Type, err)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		if !sub.Active || !sub.wants(e.Type) {
			continue
		}
		select {
		case d.queue <- delivery{subID: sub.ID, url: sub.URL, secret: sub.Secret, payload: payload}:
		default:
			logging.Warnf("[webhook] queue full, dropping %s for %s", e.Type, sub.URL)
		}
	}
}

// Close drains the workers. Queued deliveries are abandoned and an
// in-flight retry run is cut short.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.cancel()
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case job := <-d.queue:
			d.deliver(job)
		}
	}
}

// Sign computes the hex HMAC-SHA256 of a payload under a secret, matching
// the X-Webhook-Signature header receivers verify.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) deliver(job delivery) {
	err := d.cfg.Retry.Do(d.ctx, func(attempt int) error {
		if attempt > 0 {
			logging.Debugf("[webhook] retrying %s (attempt %d)", job.url, attempt+1)
		}
		return d.attempt(job)
	}, nil)
	d.recordResult(job.subID, err == nil)
	if err != nil {
		logging.Warnf("[webhook] delivery to %s failed: %v", job.url, err)
	}
}

// attempt makes a single delivery attempt. Timeouts and non-2xx responses
// are both errors so the retry policy treats them alike.
func (d *Dispatcher) attempt(job delivery) error {
	req := d.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(job.payload)
	if job.secret != "" {
		req.SetHeader("X-Webhook-Signature", Sign(job.secret, job.payload))
	}

	resp, err := req.Post(job.url)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		return err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode())
	}
	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	return nil
}

func (d *Dispatcher) recordResult(subID string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, exists := d.subs[subID]
	if !exists {
		return
	}
	if ok {
		sub.Failures = 0
		return
	}
	sub.Failures++
	if sub.Failures >= d.cfg.MaxFailures && sub.Active {
		sub.Active = false
		logging.Warnf("[webhook] deactivating %s after %d consecutive failures", sub.URL, sub.Failures)
	}
}
