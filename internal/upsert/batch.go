package upsert

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artemis/databridge/internal/apierr"
)

// BatchResult summarizes one RunBatch call.
type BatchResult struct {
	Succeeded int
	Failed    []Outcome
}

// RunBatch attempts all ops in a single transaction first; on any
// transactional failure it re-executes each op independently, classifying
// per-record failures rather than failing the whole batch outright on a
// single bad record.
func RunBatch(ctx context.Context, pool *pgxpool.Pool, ops []Op, lookupField func(Op) string) BatchResult {
	if len(ops) == 0 {
		return BatchResult{}
	}

	if err := runTransactional(ctx, pool, ops); err == nil {
		return BatchResult{Succeeded: len(ops)}
	}

	return runFallback(ctx, pool, ops, lookupField)
}

func runTransactional(ctx context.Context, pool *pgxpool.Pool, ops []Op) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if err := op.Run(ctx, tx); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func runFallback(ctx context.Context, pool *pgxpool.Pool, ops []Op, lookupField func(Op) string) BatchResult {
	result := BatchResult{}
	for _, op := range ops {
		if err := runOne(ctx, pool, op); err != nil {
			field := "record"
			if lookupField != nil {
				field = lookupField(op)
			}
			result.Failed = append(result.Failed, Outcome{
				RecordIndex: op.RecordIndex,
				Err:         classifyOrFallback(err, field),
			})
			continue
		}
		result.Succeeded++
	}
	return result
}

func runOne(ctx context.Context, pool *pgxpool.Pool, op Op) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := op.Run(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func classifyOrFallback(err error, field string) *apierr.Error {
	if e, ok := apierr.As(err); ok {
		return e
	}
	return Classify(err, field)
}
