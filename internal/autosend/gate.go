// Package autosend decides whether a drafted reply may go out without
// operator review, based on per-(property, FAQ key) approval history.
package autosend

import (
	"log/slog"

	"github.com/stayops/concierge/internal/store"
)

// Gate evaluates and updates auto-send eligibility.
type Gate struct {
	store  *store.Store
	th     store.Thresholds
	logger *slog.Logger
}

// NewGate creates a gate with the given thresholds. Zero thresholds
// fall back to the defaults (total >= 5, rate >= 0.8).
func NewGate(st *store.Store, th store.Thresholds, logger *slog.Logger) *Gate {
	if th.MinTotal <= 0 {
		th = store.DefaultThresholds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: st, th: th, logger: logger}
}

// Eligible reports whether every key has an individually eligible
// track record for this property. No record means not eligible.
func (g *Gate) Eligible(propertyCode string, faqKeys []string) (bool, error) {
	return g.store.AutoSendEligible(propertyCode, faqKeys)
}

// RecordApproved counts an unedited operator approval for each key and
// recomputes eligibility.
func (g *Gate) RecordApproved(propertyCode string, faqKeys []string) error {
	if propertyCode == "" || len(faqKeys) == 0 {
		return nil
	}
	if err := g.store.RecordAutoSendOutcome(propertyCode, faqKeys, true, g.th); err != nil {
		return err
	}
	g.logger.Info("recorded approval", "property_code", propertyCode, "faq_keys", faqKeys)
	return nil
}

// RecordEdited counts an operator edit (a miss) for each key and
// recomputes eligibility.
func (g *Gate) RecordEdited(propertyCode string, faqKeys []string) error {
	if propertyCode == "" || len(faqKeys) == 0 {
		return nil
	}
	if err := g.store.RecordAutoSendOutcome(propertyCode, faqKeys, false, g.th); err != nil {
		return err
	}
	g.logger.Info("recorded edit", "property_code", propertyCode, "faq_keys", faqKeys)
	return nil
}

// Stats returns all stats rows for a property, for the operator UI.
func (g *Gate) Stats(propertyCode string) ([]*store.AutoSendStats, error) {
	return g.store.ListAutoSendStats(propertyCode)
}
