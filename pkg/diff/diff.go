package diff

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// ContentHash hashes the parts of a row a viewer can see. Timestamps are
// left out so a refresh that repeats the same prices hashes the same.
func ContentHash(agg *models.LineAggregate) uint64 {
	if agg == nil {
		return 0
	}

	h := xxhash.New()
	w := hashWriter{h: h}

	w.putString(agg.SID)
	w.putString(string(agg.Kind))
	w.putString(agg.Entity)
	w.putString(agg.Player)
	w.putFloat(agg.Line)
	w.putBool(agg.Primary)
	w.putString(agg.Event.ID)
	w.putInt(agg.Event.StartTime.UnixNano())
	w.putString(agg.Event.HomeTeam)
	w.putString(agg.Event.AwayTeam)

	for _, side := range agg.Kind.Sides() {
		w.putString(string(side))

		byBook := agg.Quotes[side]
		books := make([]string, 0, len(byBook))
		for book := range byBook {
			books = append(books, book)
		}
		sort.Strings(books)
		for _, book := range books {
			q := byBook[book]
			w.putString(book)
			w.putInt(int64(q.Price))
			w.putFloat(q.Line)
			w.putString(q.Link)
		}

		m := agg.Metrics[side]
		if m == nil {
			w.putBool(false)
			continue
		}
		w.putBool(true)
		w.putInt(int64(m.AvgPrice))
		w.putFloat(m.AvgDecimal)
		if m.FairOdds != nil {
			w.putInt(int64(*m.FairOdds))
		} else {
			w.putString("-")
		}
		if m.EVPct != nil {
			w.putFloat(*m.EVPct)
		} else {
			w.putString("-")
		}
		w.putString(m.BestBook)
		w.putInt(int64(m.BestPrice))
		w.putFloat(m.ValuePct)
	}

	return h.Sum64()
}

type hashWriter struct {
	h   *xxhash.Digest
	buf [8]byte
}

func (w *hashWriter) putString(s string) {
	w.putInt(int64(len(s)))
	_, _ = w.h.WriteString(s)
}

func (w *hashWriter) putInt(v int64) {
	binary.LittleEndian.PutUint64(w.buf[:], uint64(v))
	_, _ = w.h.Write(w.buf[:])
}

func (w *hashWriter) putFloat(f float64) {
	w.putInt(int64(math.Float64bits(f)))
}

func (w *hashWriter) putBool(b bool) {
	if b {
		w.putInt(1)
	} else {
		w.putInt(0)
	}
}

// Compute builds the diff from prev to next for one key. Every list is
// sorted and a sid lands in at most one of them. Rows that are the same
// pointer in both maps are treated as unchanged without hashing.
func Compute(key models.CompoundKey, version int64, prev, next map[string]*models.LineAggregate) models.DiffMessage {
	msg := models.DiffMessage{
		Key:     key,
		Version: version,
		Add:     []string{},
		Upd:     []string{},
		Del:     []string{},
	}

	for sid, row := range next {
		old, ok := prev[sid]
		switch {
		case !ok:
			msg.Add = append(msg.Add, sid)
		case old == row:
		case ContentHash(old) != ContentHash(row):
			msg.Upd = append(msg.Upd, sid)
		}
	}
	for sid := range prev {
		if _, ok := next[sid]; !ok {
			msg.Del = append(msg.Del, sid)
		}
	}

	sort.Strings(msg.Add)
	sort.Strings(msg.Upd)
	sort.Strings(msg.Del)
	return msg
}

// Changed returns the rows of next that the diff adds or updates
func Changed(msg models.DiffMessage, next map[string]*models.LineAggregate) map[string]*models.LineAggregate {
	out := make(map[string]*models.LineAggregate, len(msg.Add)+len(msg.Upd))
	for _, sid := range msg.Add {
		out[sid] = next[sid]
	}
	for _, sid := range msg.Upd {
		out[sid] = next[sid]
	}
	return out
}

// Apply folds msg into a subscriber's local rows. Added and updated sids take
// their row from fetched; one that fetched has no row for expired between
// commit and resolve and is dropped. Applying the same message twice leaves
// rows as applying it once.
func Apply(rows map[string]*models.LineAggregate, msg models.DiffMessage, fetched map[string]*models.LineAggregate) {
	for _, sid := range msg.Del {
		delete(rows, sid)
	}
	for _, list := range [][]string{msg.Add, msg.Upd} {
		for _, sid := range list {
			if row := fetched[sid]; row != nil {
				rows[sid] = row
			} else {
				delete(rows, sid)
			}
		}
	}
}

// Describe renders a short summary for logs
func Describe(msg models.DiffMessage) string {
	return msg.Key.String() + "@v" + strconv.FormatInt(msg.Version, 10) +
		" +" + strconv.Itoa(len(msg.Add)) +
		" ~" + strconv.Itoa(len(msg.Upd)) +
		" -" + strconv.Itoa(len(msg.Del))
}
