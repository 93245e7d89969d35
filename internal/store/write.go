package store

import (
	"context"
	"fmt"

	"github.com/roach88/recipesync/internal/ir"
)

// RecordAction writes a completed action or query, plus the provenance
// edge to the firing that caused it. Implements engine.Recorder.
//
// Uses ON CONFLICT DO NOTHING for idempotency: writing the same record
// twice keeps the first copy. The causing firing must already be in the
// log (foreign key constraint); the dispatcher records firings before it
// executes their then invocations.
func (s *Store) RecordAction(ctx context.Context, rec ir.ActionRecord) error {
	inputJSON, err := marshalRecord(rec.Input)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}

	var outputJSON, rowsJSON any
	switch rec.Kind {
	case ir.KindAction:
		out, err := marshalRecord(rec.Output)
		if err != nil {
			return fmt.Errorf("record action: %w", err)
		}
		outputJSON = out
	case ir.KindQuery:
		rows, err := marshalRows(rec.Rows)
		if err != nil {
			return fmt.Errorf("record action: %w", err)
		}
		rowsJSON = rows
	default:
		return fmt.Errorf("record action: unknown kind %d for %s", rec.Kind, rec.Op)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record action: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO actions
		(id, flow, seq, op, kind, input, output, rows, cause)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Flow,
		rec.Seq,
		rec.Op.String(),
		rec.Kind.String(),
		inputJSON,
		outputJSON,
		rowsJSON,
		nullString(rec.Cause),
	)
	if err != nil {
		return fmt.Errorf("record action: insert: %w", err)
	}

	if rec.Cause != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO provenance (firing_id, action_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, rec.Cause, rec.ID)
		if err != nil {
			return fmt.Errorf("record action: provenance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record action: commit: %w", err)
	}
	return nil
}

// RecordFiring writes a firing. Implements engine.Recorder.
func (s *Store) RecordFiring(ctx context.Context, f ir.Firing) error {
	_, err := s.WriteFiring(ctx, f)
	return err
}

// WriteFiring inserts a firing and reports whether it was new.
//
// Uses ON CONFLICT DO NOTHING on both the id and the
// (flow, rule, record_key, binding_hash, frame_index) key, so the same rule
// instance is stored once however often it is recorded.
func (s *Store) WriteFiring(ctx context.Context, f ir.Firing) (inserted bool, err error) {
	frameJSON, err := marshalRecord(f.Frame)
	if err != nil {
		return false, fmt.Errorf("write firing: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO firings
		(id, flow, rule, match_key, record_key, binding_hash, frame_index, frame, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		f.ID,
		f.Flow,
		f.Rule,
		f.MatchKey,
		recordKey(f.RecordIDs),
		f.BindingHash,
		f.Index,
		frameJSON,
		f.Seq,
	)
	if err != nil {
		return false, fmt.Errorf("write firing: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write firing: rows affected: %w", err)
	}
	return n > 0, nil
}
