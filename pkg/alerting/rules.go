package alerting

import (
	"fmt"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// Rule binds a condition over observed values to an alert template. Rules
// carry their own cooldown, keyed by rule name, independent of the
// manager's (source, title) dedup.
type Rule struct {
	Name      string
	Condition func(data map[string]float64) bool
	Title     string
	Message   func(data map[string]float64) string
	Level     model.AlertLevel
	Source    string

	// Cooldown overrides the manager default when positive.
	Cooldown time.Duration
}

// AddRule registers a rule; a rule with a duplicate name is a setup error.
func (m *Manager) AddRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("alert rule requires a name")
	}
	if rule.Condition == nil {
		return fmt.Errorf("alert rule %q requires a condition", rule.Name)
	}
	if rule.Level.Rank() < 0 {
		return fmt.Errorf("alert rule %q: unknown level %q", rule.Name, rule.Level)
	}
	if rule.Source == "" {
		rule.Source = "rules"
	}
	if rule.Title == "" {
		rule.Title = rule.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.Name]; ok {
		return fmt.Errorf("alert rule %q already registered", rule.Name)
	}
	m.rules[rule.Name] = &rule
	return nil
}

// RemoveRule deletes a rule by name.
func (m *Manager) RemoveRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
	delete(m.lastRule, name)
}

// EvaluateRules runs every registered rule against the observation map and
// raises alerts for the ones whose condition holds and whose cooldown has
// passed. Returns the alerts raised by this evaluation.
func (m *Manager) EvaluateRules(data map[string]float64) []*model.Alert {
	now := m.now().UTC()

	m.mu.Lock()
	var due []*Rule
	for _, rule := range m.rules {
		cooldown := rule.Cooldown
		if cooldown <= 0 {
			cooldown = m.cfg.Cooldown
		}
		if last, ok := m.lastRule[rule.Name]; ok && now.Sub(last) < cooldown {
			continue
		}
		due = append(due, rule)
	}
	m.mu.Unlock()

	var raised []*model.Alert
	for _, rule := range due {
		if !rule.Condition(data) {
			continue
		}

		m.mu.Lock()
		m.lastRule[rule.Name] = now
		m.mu.Unlock()

		message := rule.Title
		if rule.Message != nil {
			message = rule.Message(data)
		}
		if alert := m.Raise(rule.Title, message, rule.Level, rule.Source, map[string]string{"rule": rule.Name}); alert != nil {
			raised = append(raised, alert)
		}
	}
	return raised
}
