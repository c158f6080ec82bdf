package reconcile

import "github.com/shopspring/decimal"

// WithBatchSize sets how many legacy ids are fetched from the source per migration chunk.
func WithBatchSize(size int) Option {
	return func(reconciler *Reconciler) {
		reconciler.batchSize = size
	}
}

// WithTolerance sets the absolute quantity and value tolerance used by Verify.
func WithTolerance(tolerance decimal.Decimal) Option {
	return func(reconciler *Reconciler) {
		reconciler.tolerance = tolerance
	}
}

// WithDryRun replaces every write with a count of what would have been written.
func WithDryRun(dryRun bool) Option {
	return func(reconciler *Reconciler) {
		reconciler.dryRun = dryRun
	}
}

// WithLegacyIndex overrides the destination's own Legacy-ID Index, e.g. with a cache.
func WithLegacyIndex(index LegacyIndex) Option {
	return func(reconciler *Reconciler) {
		if index != nil {
			reconciler.index = index
		}
	}
}

// WithIDGenerator overrides how identifiers for migrated records are produced.
func WithIDGenerator(generate func() NewID) Option {
	return func(reconciler *Reconciler) {
		if generate != nil {
			reconciler.newIDFn = generate
		}
	}
}
