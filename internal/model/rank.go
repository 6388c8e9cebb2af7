package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rank is a collection priority tier. Lower IDs are dialed first and win
// when a borrower qualifies for more than one rank.
type Rank struct {
	ID        int    `json:"id" yaml:"id" mapstructure:"id"`
	Name      string `json:"name" yaml:"name" mapstructure:"name"`
	GroupName string `json:"group_name" yaml:"group_name" mapstructure:"group_name"`
	MinDPD    int    `json:"min_dpd" yaml:"min_dpd" mapstructure:"min_dpd"`
	MaxDPD    int    `json:"max_dpd" yaml:"max_dpd" mapstructure:"max_dpd"` // 0 = unbounded
	// Outstanding band in rupiah; MaxOutstanding 0 = unbounded.
	MinOutstanding int64 `json:"min_outstanding" yaml:"min_outstanding" mapstructure:"min_outstanding"`
	MaxOutstanding int64 `json:"max_outstanding" yaml:"max_outstanding" mapstructure:"max_outstanding"`
	Disabled       bool  `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// TaskType returns the dialer task type used for this rank's daily task.
func (r Rank) TaskType() string {
	return fmt.Sprintf("grab_rank_%d", r.ID)
}

// Matches reports whether an account with the given DPD and outstanding
// amount falls inside this rank.
func (r Rank) Matches(dpd int, outstanding decimal.Decimal) bool {
	if dpd < r.MinDPD {
		return false
	}
	if r.MaxDPD > 0 && dpd > r.MaxDPD {
		return false
	}
	if outstanding.LessThan(decimal.NewFromInt(r.MinOutstanding)) {
		return false
	}
	if r.MaxOutstanding > 0 && !outstanding.LessThan(decimal.NewFromInt(r.MaxOutstanding)) {
		return false
	}
	return true
}

// DefaultRanks returns the standard seven-tier ranking used when no ranks are
// configured.
func DefaultRanks() []Rank {
	return []Rank{
		{ID: 1, Name: "dpd 2-90 high outstanding", GroupName: "GRAB_B1_HIGH", MinDPD: 2, MaxDPD: 90, MinOutstanding: 700_000},
		{ID: 2, Name: "dpd 2-90 mid outstanding", GroupName: "GRAB_B1_MID", MinDPD: 2, MaxDPD: 90, MinOutstanding: 100_000, MaxOutstanding: 700_000},
		{ID: 3, Name: "dpd 2-90 low outstanding", GroupName: "GRAB_B1_LOW", MinDPD: 2, MaxDPD: 90, MaxOutstanding: 100_000},
		{ID: 4, Name: "dpd 91-180 high outstanding", GroupName: "GRAB_B2_HIGH", MinDPD: 91, MaxDPD: 180, MinOutstanding: 700_000},
		{ID: 5, Name: "dpd 91-180 mid outstanding", GroupName: "GRAB_B2_MID", MinDPD: 91, MaxDPD: 180, MinOutstanding: 100_000, MaxOutstanding: 700_000},
		{ID: 6, Name: "dpd 91-180 low outstanding", GroupName: "GRAB_B2_LOW", MinDPD: 91, MaxDPD: 180, MaxOutstanding: 100_000},
		{ID: 7, Name: "dpd 181+", GroupName: "GRAB_B3", MinDPD: 181},
	}
}

// EnabledRanks filters out disabled ranks, preserving order.
func EnabledRanks(ranks []Rank) []Rank {
	out := make([]Rank, 0, len(ranks))
	for _, r := range ranks {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}
