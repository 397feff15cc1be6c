// Package storage persists alert rules. Each backend stores one opaque
// envelope {"state":{"rules":[...]},"version":0} under a single key.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/navid-fn/tickrelay/internal/models"
)

// DefaultKey is the key the rule list is stored under.
const DefaultKey = "crypto-alerts-rules"

// envelopeVersion is bumped when the persisted layout changes.
const envelopeVersion = 0

// RuleStore defines the interface for persisting the alert rule list.
// Implementations must be safe for concurrent use.
type RuleStore interface {
	// LoadRules returns the stored rules, or an empty list when nothing
	// has been saved yet.
	LoadRules(ctx context.Context) ([]models.AlertRule, error)

	// SaveRules replaces the stored rule list.
	SaveRules(ctx context.Context, rules []models.AlertRule) error

	// Close releases backend resources.
	Close() error
}

type ruleState struct {
	Rules []models.AlertRule `json:"rules"`
}

type envelope struct {
	State   ruleState `json:"state"`
	Version int       `json:"version"`
}

func encodeRules(rules []models.AlertRule) ([]byte, error) {
	if rules == nil {
		rules = []models.AlertRule{}
	}
	data, err := json.Marshal(envelope{State: ruleState{Rules: rules}, Version: envelopeVersion})
	if err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return data, nil
}

func decodeRules(data []byte) ([]models.AlertRule, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if env.State.Rules == nil {
		return []models.AlertRule{}, nil
	}
	return env.State.Rules, nil
}
