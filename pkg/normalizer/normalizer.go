package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/pkg/oddsmath"
	"github.com/cypherlabdev/odds-aggregator-service/pkg/pricing"
)

// Report summarizes what happened to a batch's records
type Report struct {
	Applied  int
	Stale    int
	Expired  int
	Failures []*models.NormalizationError
}

// Normalizer merges raw per-book records into canonical line aggregates
type Normalizer struct {
	grace  time.Duration
	logger zerolog.Logger
}

// NewNormalizer creates a normalizer. Records for events that started more
// than grace ago are skipped.
func NewNormalizer(grace time.Duration, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		grace:  grace,
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

// SelectionID derives the sid for one line of one entity in one event
func SelectionID(key models.CompoundKey, eventID, entity string, line float64) string {
	identity := key.String() + "|" + eventID + "|" + entity + "|" + strconv.FormatFloat(line, 'f', -1, 64)
	return fmt.Sprintf("%016x", xxhash.Sum64String(identity))
}

// Build applies batch on top of prior and returns the complete next row set
// for the batch's key. prior may be nil. Rows that are not touched keep their
// prior pointer; touched rows are fresh copies with recomputed metrics.
func (n *Normalizer) Build(prior *models.Snapshot, batch models.RawBatch, now time.Time) (map[string]*models.LineAggregate, Report) {
	key := batch.Key.Normalize()
	priorRows := map[string]*models.LineAggregate{}
	if prior != nil && prior.Rows != nil {
		priorRows = prior.Rows
	}

	next := make(map[string]*models.LineAggregate, len(priorRows))
	if !batch.Full {
		for sid, row := range priorRows {
			next[sid] = row
		}
	}
	touched := make(map[string]bool)

	var report Report

	touch := func(sid string, fresh func() *models.LineAggregate) *models.LineAggregate {
		if touched[sid] {
			return next[sid]
		}
		var agg *models.LineAggregate
		if base, ok := priorRows[sid]; ok {
			agg = base.Clone()
			if batch.Full {
				agg.Quotes = make(map[models.Side]map[string]models.Quote)
			}
		} else {
			agg = fresh()
		}
		next[sid] = agg
		touched[sid] = true
		return agg
	}

	for i := range batch.Records {
		rec := &batch.Records[i]

		q, err := n.parse(i, key, rec)
		if err != nil {
			report.Failures = append(report.Failures, err)
			n.logger.Warn().
				Str("key", key.String()).
				Str("batch_id", batch.ID).
				Str("book", err.Book).
				Str("field", err.Field).
				Str("reason", err.Reason).
				Msg("dropped malformed record")
			continue
		}

		if !rec.EventStart.IsZero() && now.After(rec.EventStart.Add(n.grace)) {
			report.Expired++
			continue
		}

		sid := SelectionID(key, q.eventID, q.entity, q.line)

		if stored, ok := storedQuote(priorRows, sid, q.side, q.quote.Book); ok && !q.quote.UpdatedAt.After(stored.UpdatedAt) {
			report.Stale++
			n.logger.Debug().
				Str("sid", sid).
				Str("book", q.quote.Book).
				Time("updated_at", q.quote.UpdatedAt).
				Time("stored_at", stored.UpdatedAt).
				Msg("ignored stale quote")
			if batch.Full {
				agg := touch(sid, func() *models.LineAggregate { return q.newAggregate(key, sid) })
				bySide := sideQuotes(agg, q.side)
				if _, set := bySide[stored.Book]; !set {
					bySide[stored.Book] = stored
				}
			}
			continue
		}

		agg := touch(sid, func() *models.LineAggregate { return q.newAggregate(key, sid) })
		sideQuotes(agg, q.side)[q.quote.Book] = q.quote
		q.updateEvent(agg)
		if q.quote.UpdatedAt.After(agg.UpdatedAt) {
			agg.UpdatedAt = q.quote.UpdatedAt
		}
		report.Applied++
	}

	n.assignPrimary(next, touched)

	for sid := range touched {
		pricing.Compute(next[sid])
	}

	return next, report
}

// assignPrimary marks, per family, the line offered by the most books as
// primary. Ties go to the lowest line. Rows whose flag flips are copied.
func (n *Normalizer) assignPrimary(rows map[string]*models.LineAggregate, touched map[string]bool) {
	type lineCount struct {
		books map[string]struct{}
	}
	families := make(map[string]map[float64]*lineCount)

	for _, row := range rows {
		fam := families[row.FamilyID()]
		if fam == nil {
			fam = make(map[float64]*lineCount)
			families[row.FamilyID()] = fam
		}
		lc := fam[row.Line]
		if lc == nil {
			lc = &lineCount{books: make(map[string]struct{})}
			fam[row.Line] = lc
		}
		for book := range row.Books() {
			lc.books[book] = struct{}{}
		}
	}

	primary := make(map[string]float64, len(families))
	for id, fam := range families {
		best, bestCount, first := 0.0, -1, true
		for line, lc := range fam {
			c := len(lc.books)
			if first || c > bestCount || (c == bestCount && line < best) {
				best, bestCount, first = line, c, false
			}
		}
		primary[id] = best
	}

	for sid, row := range rows {
		want := row.Line == primary[row.FamilyID()]
		if row.Primary == want {
			continue
		}
		if !touched[sid] {
			row = row.Clone()
			rows[sid] = row
			touched[sid] = true
		}
		row.Primary = want
	}
}

// parsed is a validated raw record
type parsed struct {
	eventID string
	entity  string
	kind    models.Kind
	side    models.Side
	line    float64
	quote   models.Quote
	rec     *models.RawQuote
}

func (n *Normalizer) parse(index int, key models.CompoundKey, rec *models.RawQuote) (*parsed, *models.NormalizationError) {
	fail := func(field, reason string) *models.NormalizationError {
		return &models.NormalizationError{Index: index, Book: rec.Book, Field: field, Reason: reason}
	}

	book := strings.ToLower(strings.TrimSpace(rec.Book))
	if book == "" {
		return nil, fail("book", "missing")
	}

	eventID := strings.TrimSpace(rec.EventID)
	if key.Event != models.AllEvents {
		if eventID == "" {
			eventID = key.Event
		} else if eventID != key.Event {
			return nil, fail("event_id", fmt.Sprintf("%q does not belong to key %s", eventID, key))
		}
	}
	if eventID == "" {
		return nil, fail("event_id", "missing")
	}

	kind := rec.Kind
	if kind == "" {
		kind = models.KindOverUnder
	}
	if kind.Sides() == nil {
		return nil, fail("kind", fmt.Sprintf("unknown kind %q", rec.Kind))
	}

	side := models.Side(strings.ToLower(strings.TrimSpace(rec.Side)))
	if !kind.HasSide(side) {
		return nil, fail("side", fmt.Sprintf("%q is not a side of %s", rec.Side, kind))
	}

	price, reason := parsePrice(rec.Price)
	if reason != "" {
		return nil, fail("price", reason)
	}
	dec, err := oddsmath.AmericanToDecimal(price)
	if err != nil {
		return nil, fail("price", err.Error())
	}

	var line float64
	if kind.RequiresLine() {
		if rec.Line == nil {
			return nil, fail("line", "missing")
		}
		line = *rec.Line
	}

	entity := "game"
	if id := strings.TrimSpace(rec.PlayerID); id != "" {
		entity = "pid:" + id
	}

	return &parsed{
		eventID: eventID,
		entity:  entity,
		kind:    kind,
		side:    side,
		line:    line,
		rec:     rec,
		quote: models.Quote{
			Book:      book,
			Price:     price,
			Decimal:   dec,
			Line:      line,
			Link:      rec.Link,
			UpdatedAt: rec.UpdatedAt,
		},
	}, nil
}

// parsePrice accepts a JSON number or numeric string holding an integral
// American price. A non-empty reason means the price is unusable.
func parsePrice(raw json.RawMessage) (int, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, "missing"
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, "not a number"
		}
		s = strings.TrimPrefix(strings.TrimSpace(s), "+")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Sprintf("not a number: %q", s)
		}
		f = v
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, "not an integral American price"
	}
	p := int(f)
	if !oddsmath.ValidAmerican(p) {
		return 0, fmt.Sprintf("%d is not a legal American price", p)
	}
	return oddsmath.Canonical(p), ""
}

func (p *parsed) newAggregate(key models.CompoundKey, sid string) *models.LineAggregate {
	agg := &models.LineAggregate{
		SID:    sid,
		Key:    key,
		Kind:   p.kind,
		Entity: p.entity,
		Line:   p.line,
		Event:  models.EventInfo{ID: p.eventID},
		Quotes: make(map[models.Side]map[string]models.Quote),
	}
	return agg
}

func (p *parsed) updateEvent(agg *models.LineAggregate) {
	if !p.rec.EventStart.IsZero() {
		agg.Event.StartTime = p.rec.EventStart
	}
	if p.rec.HomeTeam != "" {
		agg.Event.HomeTeam = p.rec.HomeTeam
	}
	if p.rec.AwayTeam != "" {
		agg.Event.AwayTeam = p.rec.AwayTeam
	}
	if p.rec.PlayerName != "" {
		agg.Player = p.rec.PlayerName
	}
}

func sideQuotes(agg *models.LineAggregate, side models.Side) map[string]models.Quote {
	bySide := agg.Quotes[side]
	if bySide == nil {
		bySide = make(map[string]models.Quote)
		agg.Quotes[side] = bySide
	}
	return bySide
}

func storedQuote(rows map[string]*models.LineAggregate, sid string, side models.Side, book string) (models.Quote, bool) {
	row, ok := rows[sid]
	if !ok {
		return models.Quote{}, false
	}
	q, ok := row.Quotes[side][book]
	return q, ok
}
