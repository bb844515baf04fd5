package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiffMessage is the change set between a key's version v-1 and v.
// A sid appears in at most one of Add, Upd and Del.
type DiffMessage struct {
	Key     CompoundKey `json:"key"`
	Version int64       `json:"v"`
	Add     []string    `json:"add"`
	Upd     []string    `json:"upd"`
	Del     []string    `json:"del"`
}

// Empty reports whether the diff carries no changes
func (d *DiffMessage) Empty() bool {
	return len(d.Add) == 0 && len(d.Upd) == 0 && len(d.Del) == 0
}

// Size returns the number of sids in the diff
func (d *DiffMessage) Size() int {
	return len(d.Add) + len(d.Upd) + len(d.Del)
}

// ArbLeg is one side of an arbitrage
type ArbLeg struct {
	Side     Side            `json:"side"`
	Book     string          `json:"book"`
	Odds     int             `json:"odds"`
	StakePct decimal.Decimal `json:"stake_pct"`
	Link     string          `json:"link,omitempty"`
}

// ArbitrageOpportunity is a selection whose best prices across books cover
// every outcome for less than 100% implied probability. Legs follow the
// kind's canonical side order, so over/under markets list over first.
type ArbitrageOpportunity struct {
	ID        string          `json:"id"`
	SID       string          `json:"sid"`
	Key       CompoundKey     `json:"key"`
	EventID   string          `json:"event_id"`
	Entity    string          `json:"ent"`
	Player    string          `json:"player,omitempty"`
	Line      float64         `json:"line"`
	ArbPct    decimal.Decimal `json:"arb_pct"`
	Legs      []ArbLeg        `json:"legs"`
	StartTime time.Time       `json:"start_time"`
	FoundAt   time.Time       `json:"found_at"`
	LastSeen  time.Time       `json:"last_seen"`
}

// HighEVBet is a single book price beating the de-vigged fair price
type HighEVBet struct {
	ID        string          `json:"id"`
	SID       string          `json:"sid"`
	Key       CompoundKey     `json:"key"`
	EventID   string          `json:"event_id"`
	Entity    string          `json:"ent"`
	Player    string          `json:"player,omitempty"`
	Line      float64         `json:"line"`
	Side      Side            `json:"side"`
	Book      string          `json:"book"`
	Odds      int             `json:"odds"`
	FairOdds  int             `json:"fair_odds"`
	EVPct     decimal.Decimal `json:"ev_pct"`
	Link      string          `json:"link,omitempty"`
	StartTime time.Time       `json:"start_time"`
	FoundAt   time.Time       `json:"found_at"`
	LastSeen  time.Time       `json:"last_seen"`
}

// Page is one cursor page of a snapshot's sids
type Page struct {
	SIDs       []string `json:"sids"`
	NextCursor *string  `json:"nextCursor"`
}

// ResolvedRow pairs a requested sid with its row, or nil if it no longer exists
type ResolvedRow struct {
	SID string         `json:"sid"`
	Row *LineAggregate `json:"row"`
}

// CommitResult describes one successful commit
type CommitResult struct {
	Key     CompoundKey
	Version int64
	Diff    DiffMessage
}
