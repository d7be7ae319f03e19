// Package sequence computes product changeovers between consecutive batches and the
// cleaning penalty they incur.
package sequence

import (
	"sort"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
)

// Apply sets Prev_Product and Changeover on each record in the given order and rescales
// the cleaning agent by 1 + (penalty-1) * changeover. The first batch is its own
// predecessor. Re-applying on the same order is a no-op, since any previously applied
// cleaning scale is divided out first.
func Apply(records []*batch.Record, penalty float64) int {
	changeovers := 0
	for i, r := range records {
		prev := r.Product
		if i > 0 {
			prev = records[i-1].Product
		}
		r.PrevProduct = prev
		r.Changeover = r.Product != prev

		flag := 0.0
		if r.Changeover {
			flag = 1
			changeovers++
		}
		r.SetCleaningScale(1 + (penalty-1)*flag)
	}

	klog.V(3).InfoS("Applied changeover penalty",
		"batches", len(records),
		"changeovers", changeovers,
		"penalty", penalty)

	return changeovers
}

// Optimize groups batches by product with a stable sort, reassigns IDs 1..N in the new
// order and re-applies the changeover penalty. The returned slice is a new ordering of
// the same records.
func Optimize(records []*batch.Record, penalty float64) ([]*batch.Record, int) {
	before := CountChangeovers(records)

	ordered := make([]*batch.Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Product.Rank() < ordered[j].Product.Rank()
	})
	for i, r := range ordered {
		r.ID = i + 1
	}
	after := Apply(ordered, penalty)

	klog.V(2).InfoS("Optimized batch sequence",
		"batches", len(ordered),
		"changeoversBefore", before,
		"changeoversAfter", after)

	return ordered, after
}

// CountChangeovers counts product transitions in order without mutating records
func CountChangeovers(records []*batch.Record) int {
	n := 0
	for i := 1; i < len(records); i++ {
		if records[i].Product != records[i-1].Product {
			n++
		}
	}
	return n
}
