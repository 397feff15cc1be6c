// Package alerts evaluates user threshold rules against the trade stream
// and keeps a capped, newest-first history of triggered alerts.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navid-fn/tickrelay/internal/models"
)

// DefaultMaxTriggered caps the triggered alert history.
const DefaultMaxTriggered = 200

// ErrInvalidRule is returned by AddRule for a structurally invalid spec.
var ErrInvalidRule = errors.New("invalid alert rule")

// Store is the persistence the engine needs. storage.RuleStore satisfies it.
type Store interface {
	LoadRules(ctx context.Context) ([]models.AlertRule, error)
	SaveRules(ctx context.Context, rules []models.AlertRule) error
}

type ChangeKind int

const (
	RulesChanged ChangeKind = iota + 1
	AlertTriggered
	TriggeredCleared
)

func (k ChangeKind) String() string {
	switch k {
	case RulesChanged:
		return "rules_changed"
	case AlertTriggered:
		return "alert_triggered"
	case TriggeredCleared:
		return "triggered_cleared"
	default:
		return "unknown"
	}
}

// Change is published to subscribers after every committed mutation.
// Alert is set for AlertTriggered only.
type Change struct {
	Kind  ChangeKind
	Alert *models.TriggeredAlert
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMaxTriggered(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTriggered = n
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

type subscriber struct {
	id int
	fn func(Change)
}

// Engine owns the rule set and the triggered list. Every mutation runs
// under one mutex and is persisted before it becomes visible.
type Engine struct {
	store        Store
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	maxTriggered int

	mu        sync.Mutex
	rules     []models.AlertRule
	triggered []models.TriggeredAlert
	lastSeq   int64
	evaluated bool
	subs      []subscriber
	nextSub   int
}

func NewEngine(store Store, notifier Notifier, logger *slog.Logger, opts ...Option) *Engine {
	if notifier == nil {
		notifier = Notifiers{}
	}
	e := &Engine{
		store:        store,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
		maxTriggered: DefaultMaxTriggered,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replaces the in-memory rules with the stored list.
func (e *Engine) Load(ctx context.Context) error {
	rules, err := e.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("Alert rules loaded", "count", len(rules))
	e.publish(Change{Kind: RulesChanged})
	return nil
}

// AddRule validates spec structurally, assigns an id and creation time and
// persists the new rule list. An empty side means all sides.
func (e *Engine) AddRule(ctx context.Context, spec models.RuleSpec) (models.AlertRule, error) {
	if spec.Side == "" {
		spec.Side = models.FilterAll
	}
	spec.Symbol = strings.ToUpper(strings.TrimSpace(spec.Symbol))
	if err := spec.Validate(); err != nil {
		return models.AlertRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	rule := models.AlertRule{
		ID:        e.newID(),
		Label:     spec.Label,
		Symbol:    spec.Symbol,
		Condition: spec.Condition,
		Threshold: spec.Threshold,
		Side:      spec.Side,
		Active:    spec.Active,
		CreatedAt: e.now().UnixMilli(),
	}

	e.mu.Lock()
	next := append(cloneRules(e.rules), rule)
	if err := e.store.SaveRules(ctx, next); err != nil {
		e.mu.Unlock()
		return models.AlertRule{}, fmt.Errorf("save rules: %w", err)
	}
	e.rules = next
	e.mu.Unlock()

	e.logger.Info("Alert rule added", "id", rule.ID, "symbol", rule.Symbol, "condition", rule.Condition)
	e.publish(Change{Kind: RulesChanged})
	return rule, nil
}

// RemoveRule deletes the rule with id. It reports false without error when
// no such rule exists.
func (e *Engine) RemoveRule(ctx context.Context, id string) (bool, error) {
	return e.mutateRule(ctx, id, func(rules []models.AlertRule, i int) []models.AlertRule {
		return append(rules[:i], rules[i+1:]...)
	})
}

// ToggleRule flips the active flag of the rule with id. It reports false
// without error when no such rule exists.
func (e *Engine) ToggleRule(ctx context.Context, id string) (bool, error) {
	return e.mutateRule(ctx, id, func(rules []models.AlertRule, i int) []models.AlertRule {
		rules[i].Active = !rules[i].Active
		return rules
	})
}

func (e *Engine) mutateRule(ctx context.Context, id string, apply func([]models.AlertRule, int) []models.AlertRule) (bool, error) {
	e.mu.Lock()
	idx := -1
	for i, r := range e.rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return false, nil
	}

	next := apply(cloneRules(e.rules), idx)
	if err := e.store.SaveRules(ctx, next); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("save rules: %w", err)
	}
	e.rules = next
	e.mu.Unlock()

	e.publish(Change{Kind: RulesChanged})
	return true, nil
}

// Evaluate matches trade against the active rules. A trade whose sequence
// id equals the last evaluated one is skipped. Only the immediately
// preceding id is remembered, so a replay of older, non-adjacent trades is
// evaluated again.
func (e *Engine) Evaluate(ctx context.Context, trade models.Trade) []models.TriggeredAlert {
	e.mu.Lock()
	if e.evaluated && trade.SequenceID == e.lastSeq {
		e.mu.Unlock()
		return nil
	}
	e.lastSeq = trade.SequenceID
	e.evaluated = true

	var fired []models.TriggeredAlert
	for _, rule := range e.rules {
		if !matches(rule, trade) {
			continue
		}
		fired = append(fired, models.TriggeredAlert{
			ID:          e.newID(),
			RuleID:      rule.ID,
			RuleLabel:   rule.Label,
			Condition:   rule.Condition,
			Threshold:   rule.Threshold,
			Trade:       trade,
			TriggeredAt: e.now().UnixMilli(),
		})
	}
	if len(fired) > 0 {
		e.prependLocked(fired)
	}
	e.mu.Unlock()

	for i := range fired {
		alert := fired[i]
		if err := e.notifier.Notify(ctx, NotificationFor(alert)); err != nil {
			e.logger.Warn("Alert notification failed", "rule", alert.RuleID, "error", err)
		}
		e.publish(Change{Kind: AlertTriggered, Alert: &alert})
	}
	return fired
}

// prependLocked puts fired in front of the list, newest first, and evicts
// the oldest entries past the cap.
func (e *Engine) prependLocked(fired []models.TriggeredAlert) {
	next := make([]models.TriggeredAlert, 0, len(fired)+len(e.triggered))
	for i := len(fired) - 1; i >= 0; i-- {
		next = append(next, fired[i])
	}
	next = append(next, e.triggered...)
	if len(next) > e.maxTriggered {
		next = next[:e.maxTriggered]
	}
	e.triggered = next
}

func matches(rule models.AlertRule, trade models.Trade) bool {
	if !rule.Active || rule.Symbol != trade.Base || !rule.Side.Matches(trade.Side) {
		return false
	}
	value := trade.Quantity
	if rule.Condition.OnPrice() {
		value = trade.Price
	}
	if rule.Condition.Above() {
		return value > rule.Threshold
	}
	return value < rule.Threshold
}

func (e *Engine) ClearTriggered() {
	e.mu.Lock()
	e.triggered = nil
	e.mu.Unlock()
	e.publish(Change{Kind: TriggeredCleared})
}

func (e *Engine) Rules() []models.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRules(e.rules)
}

func (e *Engine) Triggered() []models.TriggeredAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.TriggeredAlert, len(e.triggered))
	copy(out, e.triggered)
	return out
}

// Subscribe registers fn for committed changes. fn runs on the mutating
// goroutine and must not block.
func (e *Engine) Subscribe(fn func(Change)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *Engine) publish(c Change) {
	e.mu.Lock()
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(c)
	}
}

func cloneRules(rules []models.AlertRule) []models.AlertRule {
	out := make([]models.AlertRule, len(rules))
	copy(out, rules)
	return out
}
