package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recipesync/internal/ir"
)

// Column lists shared by every read so scanAction and scanFiring see the
// same order however the row was selected.
const actionColumns = `id, flow, seq, op, kind, input, output, rows, cause`

const firingColumns = `id, flow, rule, match_key, record_key, binding_hash, frame_index, frame, seq`

// FlowSummary describes one flow in the log.
// FirstSeq and LastSeq span both actions and firings.
type FlowSummary struct {
	Flow     string `json:"flow"`
	Actions  int    `json:"actions"`
	Firings  int    `json:"firings"`
	FirstSeq int64  `json:"first_seq"`
	LastSeq  int64  `json:"last_seq"`
}

// ReadFlow returns the actions of a flow in seq order.
// Returns an empty slice (not nil) if the flow has no records.
//
// Seq is unique per dispatcher clock; the id tie-break only matters for logs
// merged from several processes, and COLLATE BINARY keeps it independent of
// the connection's collation settings.
func (s *Store) ReadFlow(ctx context.Context, flow string) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE flow = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("query flow: %w", err)
	}
	return collectActions(rows)
}

// ReadAllActions returns every action in the log in seq order, for replay.
func (s *Store) ReadAllActions(ctx context.Context) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all actions: %w", err)
	}
	return collectActions(rows)
}

// ReadAction retrieves a single action by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadAction(ctx context.Context, id string) (ir.ActionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE id = ?
	`, id)
	return scanAction(row)
}

// ReadFirings returns the firings of a flow in seq order.
func (s *Store) ReadFirings(ctx context.Context, flow string) ([]ir.Firing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+firingColumns+`
		FROM firings
		WHERE flow = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	return collectFirings(rows)
}

// ReadAllFirings returns every firing in the log in seq order.
func (s *Store) ReadAllFirings(ctx context.Context) ([]ir.Firing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+firingColumns+`
		FROM firings
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all firings: %w", err)
	}
	return collectFirings(rows)
}

// ListFlows summarises every flow in the log, oldest first.
func (s *Store) ListFlows(ctx context.Context) ([]FlowSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.flow, COUNT(*), MIN(a.seq), MAX(a.seq),
		       (SELECT COUNT(*) FROM firings f WHERE f.flow = a.flow)
		FROM actions a
		GROUP BY a.flow
		ORDER BY MIN(a.seq) ASC, a.flow COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	flows := []FlowSummary{}
	for rows.Next() {
		var f FlowSummary
		if err := rows.Scan(&f.Flow, &f.Actions, &f.FirstSeq, &f.LastSeq, &f.Firings); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flows: %w", err)
	}
	return flows, nil
}

// ReadProvenance returns the firings that caused an action (backward trace).
// Answers: "why did this action run?"
func (s *Store) ReadProvenance(ctx context.Context, actionID string) ([]ir.ProvenanceEdge, error) {
	return s.readEdges(ctx, `
		SELECT p.firing_id, p.action_id
		FROM provenance p
		JOIN firings f ON p.firing_id = f.id
		WHERE p.action_id = ?
		ORDER BY f.seq ASC, p.firing_id COLLATE BINARY ASC
	`, actionID)
}

// ReadTriggered returns the actions a firing caused (forward trace).
// Answers: "what did this rule do?"
func (s *Store) ReadTriggered(ctx context.Context, firingID string) ([]ir.ProvenanceEdge, error) {
	return s.readEdges(ctx, `
		SELECT p.firing_id, p.action_id
		FROM provenance p
		JOIN actions a ON p.action_id = a.id
		WHERE p.firing_id = ?
		ORDER BY a.seq ASC, p.action_id COLLATE BINARY ASC
	`, firingID)
}

// LastSeq returns the highest seq in the log, 0 when empty. A dispatcher
// appending to an existing log resumes its clock from here.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM actions), 0),
			COALESCE((SELECT MAX(seq) FROM firings), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func (s *Store) readEdges(ctx context.Context, query string, arg string) ([]ir.ProvenanceEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer rows.Close()

	edges := []ir.ProvenanceEdge{}
	for rows.Next() {
		var e ir.ProvenanceEdge
		if err := rows.Scan(&e.FiringID, &e.RecordID); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance: %w", err)
	}
	return edges, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func collectActions(rows *sql.Rows) ([]ir.ActionRecord, error) {
	defer rows.Close()

	out := []ir.ActionRecord{}
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

// scanAction scans one actions row. sql.ErrNoRows is returned unwrapped so
// ReadAction callers can test for it with errors.Is.
//
// output is NULL for queries and rows is NULL for actions; a NULL column
// leaves the corresponding field nil rather than empty.
func scanAction(row scanner) (ir.ActionRecord, error) {
	var (
		rec                     ir.ActionRecord
		op, kind, input         string
		output, rowsJSON, cause sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Flow, &rec.Seq, &op, &kind, &input, &output, &rowsJSON, &cause); err != nil {
		return ir.ActionRecord{}, err
	}

	var err error
	if rec.Op, err = ir.ParseOpRef(op); err != nil {
		return ir.ActionRecord{}, err
	}
	if rec.Kind, err = parseKind(kind); err != nil {
		return ir.ActionRecord{}, err
	}
	if rec.Input, err = unmarshalRecord(input); err != nil {
		return ir.ActionRecord{}, err
	}
	if output.Valid {
		if rec.Output, err = unmarshalRecord(output.String); err != nil {
			return ir.ActionRecord{}, err
		}
	}
	if rowsJSON.Valid {
		if rec.Rows, err = unmarshalRows(rowsJSON.String); err != nil {
			return ir.ActionRecord{}, err
		}
	}
	rec.Cause = cause.String
	return rec, nil
}

func collectFirings(rows *sql.Rows) ([]ir.Firing, error) {
	defer rows.Close()

	out := []ir.Firing{}
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return out, nil
}

// scanFiring scans one firings row. The record key column holds the matched
// record ids joined by recordKey.
func scanFiring(row scanner) (ir.Firing, error) {
	var (
		f          ir.Firing
		key, frame string
	)
	if err := row.Scan(&f.ID, &f.Flow, &f.Rule, &f.MatchKey, &key, &f.BindingHash, &f.Index, &frame, &f.Seq); err != nil {
		return ir.Firing{}, err
	}
	f.RecordIDs = splitRecordKey(key)

	var err error
	if f.Frame, err = unmarshalRecord(frame); err != nil {
		return ir.Firing{}, err
	}
	return f, nil
}
