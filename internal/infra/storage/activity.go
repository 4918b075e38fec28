package storage

import (
	"sort"

	"github.com/vietddude/marketindexer/internal/core/domain"
)

// MergeActivity merges newest-first trades and markets into one newest-first
// feed of at most limit entries.
func MergeActivity(trades []*domain.Trade, markets []*domain.MarketCreated, limit int) []*domain.Activity {
	feed := make([]*domain.Activity, 0, len(trades)+len(markets))
	for _, t := range trades {
		feed = append(feed, domain.TradeActivity(t))
	}
	for _, m := range markets {
		feed = append(feed, domain.MarketActivity(m))
	}

	sort.SliceStable(feed, func(i, j int) bool {
		pi, pj := feed[i].Position(), feed[j].Position()
		if pi == pj {
			return feed[i].TxHash > feed[j].TxHash
		}
		return pj.Less(pi)
	})

	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	return feed
}
