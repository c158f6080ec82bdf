package reconcile

const (
	defaultBatchSize      = 50
	defaultToleranceText  = "0.01"
	legacyTimestampLayout = "2006-01-02 15:04:05"

	operationResolveParty      = "resolve_party"
	operationResolveForeignKey = "resolve_foreign_key"
	operationApplyCorrections  = "apply_corrections"
	operationMigrateMissing    = "migrate_missing"
	operationVerify            = "verify"
	operationReconcileParty    = "reconcile_party"

	timestampFieldSaleAt    = "sale_at"
	timestampFieldCreatedAt = "created_at"
	timestampFieldUpdatedAt = "updated_at"
)
