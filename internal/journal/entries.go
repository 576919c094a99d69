package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// Outcome of processing one definition file.
type Outcome string

const (
	// Loaded means the file compiled and its rule was upserted.
	Loaded Outcome = "loaded"
	// Removed means the file no longer exists and its rule was dropped.
	Removed Outcome = "removed"
	// Failed means the file did not compile or validate. Any prior rule
	// from the same source was dropped.
	Failed Outcome = "failed"
	// Ignored means the path is not a definition file.
	Ignored Outcome = "ignored"
)

// Entry is one journal row. Seq is assigned on write.
type Entry struct {
	Seq     int64   `json:"seq"`
	Token   string  `json:"token"`
	Source  string  `json:"source"`
	Outcome Outcome `json:"outcome"`
	Rule    string  `json:"rule,omitempty"`
	Hash    string  `json:"hash,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Record appends an entry and returns its assigned seq.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO loads (token, source, outcome, rule_name, hash, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.Token,
		e.Source,
		string(e.Outcome),
		e.Rule,
		e.Hash,
		e.Reason,
	)
	if err != nil {
		return 0, fmt.Errorf("record load: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record load: %w", err)
	}
	return seq, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns every entry.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, token, source, outcome, rule_name, hash, reason
		FROM loads
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent loads: %w", err)
	}
	return scanEntries(rows)
}

// ForSource returns every entry for one source, oldest first.
func (j *Journal) ForSource(ctx context.Context, source string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, token, source, outcome, rule_name, hash, reason
		FROM loads
		WHERE source = ?
		ORDER BY seq ASC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("query loads for %s: %w", source, err)
	}
	return scanEntries(rows)
}

// Last returns the most recent entry for source. The bool is false when the
// source has never been recorded.
func (j *Journal) Last(ctx context.Context, source string) (Entry, bool, error) {
	var (
		e       Entry
		outcome string
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT seq, token, source, outcome, rule_name, hash, reason
		FROM loads
		WHERE source = ?
		ORDER BY seq DESC
		LIMIT 1
	`, source).Scan(&e.Seq, &e.Token, &e.Source, &outcome, &e.Rule, &e.Hash, &e.Reason)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query last load for %s: %w", source, err)
	}
	e.Outcome = Outcome(outcome)
	return e, true, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			outcome string
		)
		if err := rows.Scan(&e.Seq, &e.Token, &e.Source, &outcome, &e.Rule, &e.Hash, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan load: %w", err)
		}
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loads: %w", err)
	}
	return entries, nil
}
