package workflow

import (
	"sync"

	"github.com/xraygo/xray/dataset"
)

// forEachRecord runs fn once per record. With parallelism above one the
// calls fan out across that many workers; fn receives the record's input
// position so results land in a position-indexed slice and ordering is
// restored for free at the join.
func forEachRecord(records []dataset.Record, parallelism int, fn func(i int, rec dataset.Record)) {
	if parallelism <= 1 || len(records) < 2 {
		for i, rec := range records {
			fn(i, rec)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, parallelism)
	for i, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rec dataset.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i, rec)
		}(i, rec)
	}
	wg.Wait()
}
