package models

import (
	"encoding/json"
	"time"
)

// Kind is the outcome shape of a selection. Each kind has a fixed, ordered
// set of sides that share one metrics contract.
type Kind string

const (
	KindOverUnder Kind = "over_under" // totals and player props
	KindSpread    Kind = "spread"     // home/away with a handicap line
	KindMoneyline Kind = "moneyline"  // home/away, no line
	KindThreeWay  Kind = "three_way"  // home/draw/away, no line
)

// Side is one outcome of a selection
type Side string

const (
	SideOver  Side = "over"
	SideUnder Side = "under"
	SideHome  Side = "home"
	SideAway  Side = "away"
	SideDraw  Side = "draw"
)

// Sides returns the kind's sides in canonical order, or nil for an unknown kind
func (k Kind) Sides() []Side {
	switch k {
	case KindOverUnder:
		return []Side{SideOver, SideUnder}
	case KindSpread, KindMoneyline:
		return []Side{SideHome, SideAway}
	case KindThreeWay:
		return []Side{SideHome, SideDraw, SideAway}
	default:
		return nil
	}
}

// RequiresLine reports whether records of this kind must carry a line
func (k Kind) RequiresLine() bool {
	return k == KindOverUnder || k == KindSpread
}

// HasSide reports whether s is one of the kind's sides
func (k Kind) HasSide(s Side) bool {
	for _, side := range k.Sides() {
		if side == s {
			return true
		}
	}
	return false
}

// RawQuote is one upstream record: one book's price for one side of one line.
// Price is kept raw so a malformed value only drops this record.
type RawQuote struct {
	Book       string          `json:"book"`
	EventID    string          `json:"event_id"`
	Kind       Kind            `json:"kind,omitempty"`
	PlayerID   string          `json:"player_id,omitempty"`
	PlayerName string          `json:"player_name,omitempty"`
	Side       string          `json:"side"`
	Price      json.RawMessage `json:"price"`
	Line       *float64        `json:"line,omitempty"`
	Link       string          `json:"link,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
	EventStart time.Time       `json:"event_start"`
	HomeTeam   string          `json:"home_team,omitempty"`
	AwayTeam   string          `json:"away_team,omitempty"`
}

// RawBatch is one upstream delivery for a compound key. A Full batch carries
// every live selection for the key; selections missing from it are removed.
type RawBatch struct {
	ID      string      `json:"batch_id"`
	Key     CompoundKey `json:"key"`
	Full    bool        `json:"full"`
	SentAt  time.Time   `json:"sent_at"`
	Records []RawQuote  `json:"records"`
}

// Quote is one book's live offer for one side of a selection
type Quote struct {
	Book      string    `json:"book"`
	Price     int       `json:"price"`
	Decimal   float64   `json:"decimal"`
	Line      float64   `json:"line"`
	Link      string    `json:"link,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventInfo describes the event a selection belongs to
type EventInfo struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"dt"`
	HomeTeam  string    `json:"home,omitempty"`
	AwayTeam  string    `json:"away,omitempty"`
}

// SideMetrics are the derived prices for one side of a selection
type SideMetrics struct {
	AvgPrice   int      `json:"avg_price"`
	AvgDecimal float64  `json:"avg_decimal"`
	FairOdds   *int     `json:"fair_odds"`
	EVPct      *float64 `json:"ev_pct"`
	BestBook   string   `json:"best_book"`
	BestPrice  int      `json:"best_price"`
	ValuePct   float64  `json:"value_pct"`
}

// LineAggregate is every book's quotes for one selection plus the metrics
// computed from them. Metrics is nil until every side has at least one quote.
type LineAggregate struct {
	SID       string                    `json:"sid"`
	Key       CompoundKey               `json:"key"`
	Kind      Kind                      `json:"kind"`
	Entity    string                    `json:"ent"`
	Player    string                    `json:"player,omitempty"`
	Line      float64                   `json:"ln"`
	Primary   bool                      `json:"primary"`
	Event     EventInfo                 `json:"ev"`
	Quotes    map[Side]map[string]Quote `json:"quotes"`
	Metrics   map[Side]*SideMetrics     `json:"metrics,omitempty"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// FamilyID groups every line of the same entity and market within an event
func (a *LineAggregate) FamilyID() string {
	return a.Key.Sport + "|" + a.Key.Market + "|" + a.Key.Scope + "|" + a.Event.ID + "|" + a.Entity
}

// Books returns the distinct books quoting any side
func (a *LineAggregate) Books() map[string]struct{} {
	books := make(map[string]struct{})
	for _, bySide := range a.Quotes {
		for book := range bySide {
			books[book] = struct{}{}
		}
	}
	return books
}

// Clone returns a copy whose quote maps may be mutated independently.
// Metrics are not carried over; they are recomputed after any change.
func (a *LineAggregate) Clone() *LineAggregate {
	c := *a
	c.Metrics = nil
	c.Quotes = make(map[Side]map[string]Quote, len(a.Quotes))
	for side, byBook := range a.Quotes {
		m := make(map[string]Quote, len(byBook))
		for book, q := range byBook {
			m[book] = q
		}
		c.Quotes[side] = m
	}
	return &c
}

// Snapshot is the full selection set for a compound key at one version
type Snapshot struct {
	Key     CompoundKey
	Version int64
	Rows    map[string]*LineAggregate
}

// SIDs returns the snapshot's selection ids in no particular order
func (s *Snapshot) SIDs() []string {
	sids := make([]string, 0, len(s.Rows))
	for sid := range s.Rows {
		sids = append(sids, sid)
	}
	return sids
}
