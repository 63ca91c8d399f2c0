// Package tally counts messages per sender for a single run.
package tally

import (
	"sort"

	"sendertally/internal/model"
	"sendertally/internal/util"
)

type entry struct {
	count       int
	displayName string
	seen        int // first-seen position, used to break ties
}

// Tally is a monotonic sender -> count map. It is not safe for concurrent use.
type Tally struct {
	senders  map[string]*entry
	recorded int
	skipped  int
	excluded int
}

func New() *Tally {
	return &Tally{senders: make(map[string]*entry)}
}

// Record counts one message from s. The first non-empty display name seen
// for an address is kept for presentation.
func (t *Tally) Record(s model.Sender) {
	e, ok := t.senders[s.Address]
	if !ok {
		e = &entry{seen: len(t.senders)}
		t.senders[s.Address] = e
	}
	e.count++
	if e.displayName == "" && s.DisplayName != "" {
		e.displayName = s.DisplayName
	}
	t.recorded++
}

// Skip counts a message whose sender could not be extracted.
func (t *Tally) Skip() { t.skipped++ }

// Exclude counts a message from an excluded sender.
func (t *Tally) Exclude() { t.excluded++ }

func (t *Tally) Recorded() int { return t.recorded }
func (t *Tally) Skipped() int  { return t.skipped }
func (t *Tally) Excluded() int { return t.excluded }

// Len returns the number of distinct senders.
func (t *Tally) Len() int { return len(t.senders) }

// Count returns the count recorded for address.
func (t *Tally) Count(address string) int {
	if e, ok := t.senders[address]; ok {
		return e.count
	}
	return 0
}

// Report returns senders sorted by Count desc, then first-seen order.
func (t *Tally) Report() []model.SenderCount {
	type row struct {
		model.SenderCount
		seen int
	}
	rows := make([]row, 0, len(t.senders))
	for addr, e := range t.senders {
		rows = append(rows, row{
			SenderCount: model.SenderCount{Address: addr, DisplayName: e.displayName, Count: e.count},
			seen:        e.seen,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].seen < rows[j].seen
		}
		return rows[i].Count > rows[j].Count
	})
	out := make([]model.SenderCount, len(rows))
	for i, r := range rows {
		out[i] = r.SenderCount
	}
	return out
}

// Domains rolls the sender counts up by address domain, ordered like Report.
// Addresses without a domain are grouped under "".
func (t *Tally) Domains() []model.SenderCount {
	idx := make(map[string]int)
	var out []model.SenderCount
	// Walk in report order so a domain's position reflects its first-seen sender
	// among equal counts, then re-sort by the rolled-up totals.
	for _, s := range t.Report() {
		d := util.Domain(s.Address)
		i, ok := idx[d]
		if !ok {
			i = len(out)
			idx[d] = i
			out = append(out, model.SenderCount{Address: d})
		}
		out[i].Count += s.Count
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
