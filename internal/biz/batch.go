package biz

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// BatchResult reports what one batch write did.
type BatchResult struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	// IDs maps stable keys to authoritative row ids.
	IDs map[string]string
}

// BatchWriter applies a resolved batch in a single transaction.
type BatchWriter struct {
	repo  MediaRepo
	tx    Transaction
	retry RetryPolicy
	log   *log.Helper
}

// NewBatchWriter creates a BatchWriter.
func NewBatchWriter(repo MediaRepo, tx Transaction, retry RetryPolicy, logger log.Logger) *BatchWriter {
	return &BatchWriter{
		repo:  repo,
		tx:    tx,
		retry: retry,
		log:   log.NewHelper(log.With(logger, "module", "biz/batch-writer")),
	}
}

// WriteBatch inserts creates ignoring key conflicts, reads back ids by stable key, then applies
// each update. Any storage error rolls the batch back and is returned; contention is retried.
func (w *BatchWriter) WriteBatch(ctx context.Context, batch *ResolvedBatch) (*BatchResult, error) {
	if batch.Len() == 0 {
		return nil, &EmptyBatchError{Kind: batch.Kind, Skipped: batch.Skipped}
	}

	keys := make([]string, 0, len(batch.Items))
	for _, it := range batch.Items {
		keys = append(keys, it.StableKey)
	}

	res, err := RetryValue(ctx, w.retry, func(ctx context.Context) (*BatchResult, error) {
		res := &BatchResult{Unchanged: len(batch.Unchanged), Skipped: batch.Skipped}
		err := w.tx.InTx(ctx, func(ctx context.Context) error {
			if len(batch.Creates) > 0 {
				n, err := w.repo.InsertIgnoringConflicts(ctx, batch.Kind, batch.Creates)
				if err != nil {
					return err
				}
				res.Created = int(n)
			}
			ids, err := w.repo.StableKeyIDs(ctx, batch.Kind, keys)
			if err != nil {
				return err
			}
			res.IDs = ids
			for _, u := range batch.Updates {
				if err := w.repo.UpdateFields(ctx, batch.Kind, u.ID, u.Changes); err != nil {
					return fmt.Errorf("failed to update %s %s: %w", batch.Kind, u.ID, err)
				}
				res.Updated++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write %s batch: %w", batch.Kind, err)
	}

	if lost := len(batch.Creates) - res.Created; lost > 0 {
		w.log.Warnf("%d %s inserts lost a key conflict to a concurrent writer", lost, batch.Kind)
	}
	// adopt authoritative ids, which differ from the generated ones when an insert lost a race
	for _, it := range batch.Items {
		if id, ok := res.IDs[it.StableKey]; ok {
			it.ID = id
		}
	}
	return res, nil
}
