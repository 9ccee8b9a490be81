package planner

import (
	"fmt"
	"hash/fnv"
)

// Hash produces a content-addressed identifier over the inputs that fully
// determine an ExecutionPlan's shape, for LRU reuse/dedup of replays.
func Hash(totalPages, lastPageCount, startPage, endPage, batchSize, concurrency, retryMax int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|%d|%d", totalPages, lastPageCount, startPage, endPage, batchSize, concurrency, retryMax)
	return fmt.Sprintf("%x", h.Sum64())
}
