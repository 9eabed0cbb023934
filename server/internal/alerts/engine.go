package alerts

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/config"
	"github.com/tillu/branchbus/server/internal/router"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// ErrInvalidLevel is returned for stock reports that cannot be evaluated.
var ErrInvalidLevel = errors.New("invalid stock level")

// Publisher routes events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(e events.Event) (router.Result, error)
}

// StockLevel is one stock report for an item in a branch.
type StockLevel struct {
	BranchID     string  `json:"branchId"`
	ItemID       string  `json:"itemId"`
	ItemName     string  `json:"itemName,omitempty"`
	CurrentStock float64 `json:"currentStock"`
	MinimumStock float64 `json:"minimumStock"`
	Operation    string  `json:"operation,omitempty"`
}

func (l StockLevel) validate() error {
	if l.BranchID == "" || l.ItemID == "" {
		return fmt.Errorf("%w: branchId and itemId are required", ErrInvalidLevel)
	}
	if l.CurrentStock < 0 || l.MinimumStock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidLevel)
	}
	switch l.Operation {
	case "", "add", "subtract", "set":
	default:
		return fmt.Errorf("%w: operation %q unknown: want add|subtract|set", ErrInvalidLevel, l.Operation)
	}
	return nil
}

// Alert is one low-stock alert.
type Alert struct {
	ID           string          `json:"id"`
	BranchID     string          `json:"branchId"`
	ItemID       string          `json:"itemId"`
	ItemName     string          `json:"itemName,omitempty"`
	Severity     events.Severity `json:"severity"`
	Message      string          `json:"message"`
	CurrentStock float64         `json:"currentStock"`
	MinimumStock float64         `json:"minimumStock"`
	FiredAt      time.Time       `json:"firedAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
	State        string          `json:"state"` // "firing" | "resolved"
}

// Evaluation reports what a stock report produced.
type Evaluation struct {
	Updated    router.Result  `json:"-"`
	Alert      *Alert         `json:"alert,omitempty"`
	Delivery   *router.Result `json:"-"`
	Suppressed bool           `json:"suppressed"`
	Resolved   bool           `json:"resolved"`
}

// Engine evaluates stock reports. It is safe for concurrent use.
type Engine struct {
	pub Publisher

	mu       sync.Mutex
	cooldown time.Duration
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: branch + item
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // recently resolved
	client   *http.Client
	now      func() time.Time
	deliverF func(*Alert)
}

// New creates an Engine publishing through pub.
func New(cfg config.AlertsConfig, pub Publisher) *Engine {
	e := &Engine{
		pub:      pub,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.deliverF = func(a *Alert) { go e.deliver(a) }
	e.Reconfigure(cfg)
	return e
}

// Reconfigure swaps cooldown and webhooks, e.g. after a config reload.
func (e *Engine) Reconfigure(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = cfg.Cooldown
	if e.cooldown <= 0 {
		e.cooldown = defaultCooldown
	}
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
}

func key(branchID, itemID string) string { return branchID + "/" + itemID }

// Evaluate publishes inventory-updated for l and fires, suppresses or
// resolves the item's alert.
func (e *Engine) Evaluate(l StockLevel) (Evaluation, error) {
	if err := l.validate(); err != nil {
		return Evaluation{}, err
	}

	var ev Evaluation
	updated, err := e.pub.Publish(events.New(l.BranchID, events.InventoryUpdated{
		ItemID:       l.ItemID,
		CurrentStock: l.CurrentStock,
		MinimumStock: l.MinimumStock,
		Operation:    l.Operation,
	}))
	if err != nil {
		return Evaluation{}, err
	}
	ev.Updated = updated

	k := key(l.BranchID, l.ItemID)
	now := e.now()
	payload, low := events.StockAlert(l.ItemID, l.ItemName, l.CurrentStock, l.MinimumStock)

	e.mu.Lock()
	if !low {
		a, ok := e.active[k]
		if !ok {
			e.mu.Unlock()
			return ev, nil
		}
		resolved := now
		a.State = "resolved"
		a.ResolvedAt = &resolved
		a.CurrentStock = l.CurrentStock
		delete(e.active, k)
		delete(e.lastFire, k)
		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		cp := *a
		e.mu.Unlock()

		slog.Info("alerts: stock alert resolved", "branch", l.BranchID, "item", l.ItemID)
		ev.Alert, ev.Resolved = &cp, true
		e.deliverF(&cp)
		return ev, nil
	}

	if prev, ok := e.active[k]; ok &&
		payload.Severity.Rank() <= prev.Severity.Rank() &&
		now.Sub(e.lastFire[k]) < e.cooldown {
		prev.CurrentStock = l.CurrentStock
		cp := *prev
		e.mu.Unlock()
		ev.Alert, ev.Suppressed = &cp, true
		return ev, nil
	}

	a := &Alert{
		ID:           uuid.NewString(),
		BranchID:     l.BranchID,
		ItemID:       l.ItemID,
		ItemName:     l.ItemName,
		Severity:     payload.Severity,
		Message:      payload.Message,
		CurrentStock: l.CurrentStock,
		MinimumStock: l.MinimumStock,
		FiredAt:      now,
		State:        "firing",
	}
	e.active[k] = a
	e.lastFire[k] = now
	cp := *a
	e.mu.Unlock()

	slog.Warn("alerts: stock alert fired",
		"branch", l.BranchID, "item", l.ItemID,
		"stock", l.CurrentStock, "minimum", l.MinimumStock, "severity", a.Severity)

	delivery, err := e.pub.Publish(events.New(l.BranchID, payload))
	if err != nil {
		return ev, err
	}
	ev.Alert, ev.Delivery = &cp, &delivery
	e.deliverF(&cp)
	return ev, nil
}

// Active returns firing alerts plus those resolved within the past hour,
// newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
