package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"buildledger/internal/config"
	"buildledger/internal/domain"
	"buildledger/internal/engine"
	"buildledger/internal/events"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards committed audit entries to the configured
// observers. Each hook keeps its own cursor; a failed delivery stops that
// hook's batch and is retried on the next tick.
type WebhookDispatcher struct {
	Interval time.Duration

	engine  engine.Engine
	hooks   []config.Webhook
	filters []eventFilter
	log     *slog.Logger
	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(e engine.Engine, hooks []config.Webhook, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	filters := make([]eventFilter, len(hooks))
	for i, hook := range hooks {
		filters[i] = newEventFilter(hook.Events)
	}
	return &WebhookDispatcher{
		Interval: defaultWebhookInterval,
		engine:   e,
		hooks:    hooks,
		filters:  filters,
		log:      logger,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
}

// Run dispatches until ctx is cancelled. Entries committed before the first
// tick are not replayed.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.hooks) == 0 {
		return
	}
	d.initCursors(ctx)
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchAll(ctx)
		}
	}
}

func (d *WebhookDispatcher) initCursors(ctx context.Context) {
	cur, err := d.engine.LastSeq(ctx)
	if err != nil {
		d.log.Warn("webhook: init cursor failed", "err", err)
		cur = 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.hooks {
		if _, ok := d.cursors[i]; !ok {
			d.cursors[i] = cur
		}
	}
}

func (d *WebhookDispatcher) dispatchAll(ctx context.Context) {
	for i := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatchWebhook(ctx, i)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int) {
	hook := d.hooks[idx]
	items, err := d.engine.Events(ctx, events.Filter{AfterSeq: d.cursor(idx), Limit: defaultWebhookBatch})
	if err != nil {
		d.log.Warn("webhook: fetch events failed", "url", hook.URL, "err", err)
		return
	}
	for _, evt := range items {
		if d.filters[idx].match(evt.Kind) {
			if err := d.postEvent(ctx, hook, evt); err != nil {
				d.log.Warn("webhook: delivery failed", "url", hook.URL, "seq", evt.Seq, "kind", evt.Kind, "err", err)
				return
			}
		}
		d.setCursor(idx, evt.Seq)
	}
}

func (d *WebhookDispatcher) cursor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursors[idx]
}

func (d *WebhookDispatcher) setCursor(idx int, seq int64) {
	d.mu.Lock()
	d.cursors[idx] = seq
	d.mu.Unlock()
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in
// X-Buildledger-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	data, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Buildledger-Event", evt.Kind)
	req.Header.Set("X-Buildledger-Delivery", uuid.NewString())
	req.Header.Set("X-Buildledger-Seq", strconv.FormatInt(evt.Seq, 10))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Buildledger-Signature", Sign(hook.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(kinds []string) eventFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if k == "*" {
			return eventFilter{all: true}
		}
		if k != "" {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
