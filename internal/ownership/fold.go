// Package ownership derives credit state from its append-only history.
package ownership

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/charlesng35/hycredit/internal/models"
)

// Projection is the state obtained by replaying a credit's entries.
type Projection struct {
	Owner        string
	Balance      decimal.Decimal
	Issued       decimal.Decimal
	Status       models.CreditStatus
	LastSequence int64
}

// Sort orders entries by timestamp, then by sequence.
func Sort(entries []models.OwnershipEntry) []models.OwnershipEntry {
	sorted := append([]models.OwnershipEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	return sorted
}

// Fold replays entries of a single credit. The first entry is the genesis: an
// ISSUE, or the TRANSFER that created a shard. A balance never goes negative and
// nothing follows retirement.
func Fold(entries []models.OwnershipEntry) (Projection, error) {
	var p Projection
	if len(entries) == 0 {
		return p, fmt.Errorf("ownership: empty history")
	}

	for i, e := range Sort(entries) {
		if e.CreditID != entries[0].CreditID {
			return p, fmt.Errorf("ownership: entry %d belongs to %s, not %s", e.Sequence, e.CreditID, entries[0].CreditID)
		}
		if p.Status == models.CreditRetired {
			return p, fmt.Errorf("ownership: entry %d follows retirement", e.Sequence)
		}

		if i == 0 {
			if e.Type == models.EntryRetire || !e.Delta.IsPositive() || !e.Delta.Equal(e.Amount) {
				return p, fmt.Errorf("ownership: entry %d is not a valid genesis entry", e.Sequence)
			}
			p.Issued = e.Amount
			p.Status = models.CreditIssued
			if e.Type == models.EntryTransfer {
				p.Status = models.CreditTransferred
			}
		} else if e.Type == models.EntryIssue {
			return p, fmt.Errorf("ownership: credit issued twice at entry %d", e.Sequence)
		}

		p.Balance = p.Balance.Add(e.Delta)
		if p.Balance.IsNegative() {
			return p, fmt.Errorf("ownership: entry %d drives the balance negative", e.Sequence)
		}
		p.Owner = e.Owner
		p.LastSequence = e.Sequence

		switch e.Type {
		case models.EntryTransfer:
			if i > 0 {
				p.Status = models.CreditTransferred
			}
		case models.EntryRetire:
			if p.Balance.IsZero() {
				p.Status = models.CreditRetired
			}
		}
	}

	if p.Balance.GreaterThan(p.Issued) {
		return p, fmt.Errorf("ownership: balance %s exceeds issued amount %s", p.Balance, p.Issued)
	}
	return p, nil
}

// Matches reports whether the stored projection of credit equals p.
func (p Projection) Matches(credit models.Credit) bool {
	return credit.CurrentOwner == p.Owner &&
		credit.CurrentBalance.Equal(p.Balance) &&
		credit.Status == p.Status
}
