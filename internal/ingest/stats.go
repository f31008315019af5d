package ingest

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters accumulates one retailer's run statistics. Fields are updated
// concurrently by unit workers.
type Counters struct {
	RecordsSeen     atomic.Int64
	ProductsCreated atomic.Int64
	ProductsUpdated atomic.Int64
	MappingsCreated atomic.Int64
	PricesInserted  atomic.Int64
	PricesClosed    atomic.Int64
	Written         atomic.Int64
	Skipped         atomic.Int64
	Conflicts       atomic.Int64
	NeedsReview     atomic.Int64
	Errors          atomic.Int64
	BotBlocks       atomic.Int64
	UnitsDone       atomic.Int64
	UnitsFailed     atomic.Int64
}

type Snapshot struct {
	RecordsSeen     int64 `json:"records_seen"`
	ProductsCreated int64 `json:"products_created"`
	ProductsUpdated int64 `json:"products_updated"`
	MappingsCreated int64 `json:"mappings_created"`
	PricesInserted  int64 `json:"prices_inserted"`
	PricesClosed    int64 `json:"prices_closed"`
	Written         int64 `json:"records_written"`
	Skipped         int64 `json:"records_skipped"`
	Conflicts       int64 `json:"identity_conflicts"`
	NeedsReview     int64 `json:"needs_review"`
	Errors          int64 `json:"errors"`
	BotBlocks       int64 `json:"bot_blocks"`
	UnitsDone       int64 `json:"units_done"`
	UnitsFailed     int64 `json:"units_failed"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RecordsSeen:     c.RecordsSeen.Load(),
		ProductsCreated: c.ProductsCreated.Load(),
		ProductsUpdated: c.ProductsUpdated.Load(),
		MappingsCreated: c.MappingsCreated.Load(),
		PricesInserted:  c.PricesInserted.Load(),
		PricesClosed:    c.PricesClosed.Load(),
		Written:         c.Written.Load(),
		Skipped:         c.Skipped.Load(),
		Conflicts:       c.Conflicts.Load(),
		NeedsReview:     c.NeedsReview.Load(),
		Errors:          c.Errors.Load(),
		BotBlocks:       c.BotBlocks.Load(),
		UnitsDone:       c.UnitsDone.Load(),
		UnitsFailed:     c.UnitsFailed.Load(),
	}
}

func (s Snapshot) add(o Snapshot) Snapshot {
	s.RecordsSeen += o.RecordsSeen
	s.ProductsCreated += o.ProductsCreated
	s.ProductsUpdated += o.ProductsUpdated
	s.MappingsCreated += o.MappingsCreated
	s.PricesInserted += o.PricesInserted
	s.PricesClosed += o.PricesClosed
	s.Written += o.Written
	s.Skipped += o.Skipped
	s.Conflicts += o.Conflicts
	s.NeedsReview += o.NeedsReview
	s.Errors += o.Errors
	s.BotBlocks += o.BotBlocks
	s.UnitsDone += o.UnitsDone
	s.UnitsFailed += o.UnitsFailed
	return s
}

// Stats is the per-retailer counter book for one run.
type Stats struct {
	mu         sync.Mutex
	byRetailer map[string]*Counters
}

func NewStats() *Stats {
	return &Stats{byRetailer: map[string]*Counters{}}
}

// For returns the retailer's counters, creating them on first use.
func (s *Stats) For(retailer string) *Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byRetailer[retailer]
	if !ok {
		c = &Counters{}
		s.byRetailer[retailer] = c
	}
	return c
}

func (s *Stats) Retailers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.byRetailer))
	for r := range s.byRetailer {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s *Stats) Snapshot() map[string]Snapshot {
	out := map[string]Snapshot{}
	for _, r := range s.Retailers() {
		out[r] = s.For(r).Snapshot()
	}
	return out
}

func (s *Stats) Totals() Snapshot {
	var total Snapshot
	for _, snap := range s.Snapshot() {
		total = total.add(snap)
	}
	return total
}
