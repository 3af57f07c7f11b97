package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
)

// Lookup finds an already-persisted record by identity key.
type Lookup interface {
	FindExistingByIdentity(ctx context.Context, jobID, email, phone string) (*model.Record, error)
}

// DedupeResult splits a batch into unique records and duplicates.
type DedupeResult struct {
	Unique     []model.AssembledRecord
	Duplicates []model.AssembledRecord
}

// Deduplicator flags records whose (email, phone) pair was already seen
// for the job, either earlier in the batch or in storage.
type Deduplicator struct {
	lookup  Lookup
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewDeduplicator creates a Deduplicator. metrics may be nil.
func NewDeduplicator(lookup Lookup, log *zap.Logger, metrics *monitoring.Metrics) *Deduplicator {
	if log == nil {
		log = zap.L()
	}
	return &Deduplicator{
		lookup:  lookup,
		log:     log.With(zap.String("component", "dedupe")),
		metrics: metrics,
	}
}

type identity struct {
	email, phone string
}

// Dedupe classifies records in order. Records missing either half of the
// identity key are always unique. A failed storage lookup is logged and
// the record is treated as unique; the storage unique constraint remains
// the final arbiter.
func (d *Deduplicator) Dedupe(ctx context.Context, records []model.AssembledRecord, jobID string) DedupeResult {
	var res DedupeResult
	seen := make(map[identity]struct{})

	for _, rec := range records {
		email, phone, ok := rec.IdentityKey()
		if !ok {
			res.Unique = append(res.Unique, rec)
			continue
		}

		key := identity{email: email, phone: phone}
		if _, dup := seen[key]; dup {
			res.Duplicates = append(res.Duplicates, rec)
			continue
		}

		existing, err := d.lookup.FindExistingByIdentity(ctx, jobID, email, phone)
		if err != nil {
			d.log.Warn("pipeline: dedupe lookup failed, treating record as unique",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			d.metrics.LookupFailed()
			existing = nil
		}

		seen[key] = struct{}{}
		if existing != nil {
			res.Duplicates = append(res.Duplicates, rec)
			continue
		}
		res.Unique = append(res.Unique, rec)
	}
	return res
}
