// Package store persists injections and the callbacks they trigger, and
// answers the correlation join that turns the two into findings
// (spec.md §4.2). It is the only package that touches SQL directly;
// everything else in ricochet talks to a *Store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ricochet.sh/internal/database"
	"ricochet.sh/internal/ferrors"
	"ricochet.sh/internal/metrics"
)

// InjectionRecord is a single payload delivery, keyed by its correlation id
// (spec.md §3).
type InjectionRecord struct {
	ID         string
	TargetURL  string
	Parameter  string
	Payload    string
	Context    *string
	InjectedAt time.Time
}

// CallbackRecord is a single out-of-band hit against a callback server,
// linked back to the injection that produced it.
type CallbackRecord struct {
	ID            int64
	CorrelationID string
	SourceIP      string
	RequestPath   string
	Headers       map[string]string
	Body          []byte
	ReceivedAt    time.Time
}

// Finding is the join of an injection and the callback it triggered: proof
// that a payload executed somewhere out-of-band.
type Finding struct {
	InjectionRecord
	CallbackID  int64
	SourceIP    string
	RequestPath string
	Headers     map[string]string
	Body        []byte
	ReceivedAt  time.Time
}

// Severity classifies this finding from its injection context, per
// DeriveSeverity.
func (f Finding) Severity() Severity {
	return DeriveSeverity(f.Context)
}

// DelaySeconds is the time between injection and the callback that proved
// it, the metric spec.md §8 calls the "round-trip" for a second-order hit.
func (f Finding) DelaySeconds() float64 {
	return f.ReceivedAt.Sub(f.InjectedAt).Seconds()
}

// Metadata parses the callback body as a JSON object, for targets that echo
// structured context (e.g. which code path handled the replay) in their
// callback request. Returns nil if the body is empty or not a JSON object.
func (f Finding) Metadata() map[string]any {
	if len(f.Body) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(f.Body, &data); err != nil {
		return nil
	}
	return data
}

// HasMetadata reports whether Metadata would return a non-nil map.
func (f Finding) HasMetadata() bool {
	return f.Metadata() != nil
}

// writeRetryPolicy absorbs the transient "database is locked" errors sqlite
// returns under concurrent writers — the injector recording an injection
// while the callback listeners record hits against earlier ones — without
// retrying the genuinely permanent failures (duplicate id, bad SQL).
var writeRetryPolicy = ferrors.NewRetryPolicy(&ferrors.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  10 * time.Millisecond,
	MaxDelay:      100 * time.Millisecond,
	Multiplier:    2,
	Jitter:        0.2,
	RetryableFunc: ferrors.IsRetryable,
}, nil)

// Store wraps a *database.DB with ricochet's injection/callback schema.
type Store struct {
	db     *database.DB
	driver string
}

// New wraps db for use as a Store. The schema is assumed already migrated
// (database.New runs migrations on open per its RunMigrations config).
func New(db *database.DB) *Store {
	return &Store{db: db, driver: db.Driver()}
}

// ph returns the n-th positional placeholder for the store's driver
// (sqlite/mysql use "?", postgres uses "$n").
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// RecordInjection persists a new injection. It returns a CodeDuplicateID
// error if id already exists, matching spec.md §4.2's duplicate-id
// contract.
func (s *Store) RecordInjection(ctx context.Context, rec InjectionRecord) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation("record_injection", storeOutcome(err), time.Since(start).Seconds())
	}()

	query := fmt.Sprintf(
		`INSERT INTO injections (id, target_url, parameter, payload, context, injected_at) VALUES (%s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6),
	)
	return writeRetryPolicy.Execute(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, rec.ID, rec.TargetURL, rec.Parameter, rec.Payload, rec.Context, timeToEpoch(rec.InjectedAt))
		if err != nil {
			if isDuplicateKeyErr(err) {
				return ferrors.Newf(ferrors.CodeDuplicateID, "injection %q already recorded", rec.ID)
			}
			return ferrors.Wrap(err, ferrors.CodeStorageError, "failed to record injection")
		}
		return nil
	})
}

// GetInjection looks up a single injection by id. The second return value
// is false if no such injection exists.
func (s *Store) GetInjection(ctx context.Context, id string) (rec *InjectionRecord, found bool, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation("get_injection", storeOutcome(err), time.Since(start).Seconds())
	}()

	query := fmt.Sprintf(
		`SELECT id, target_url, parameter, payload, context, injected_at FROM injections WHERE id = %s`,
		s.ph(1),
	)
	row := s.db.QueryRowContext(ctx, query, id)

	var r InjectionRecord
	var injectedAt float64
	if scanErr := row.Scan(&r.ID, &r.TargetURL, &r.Parameter, &r.Payload, &r.Context, &injectedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return nil, false, nil
		}
		err = ferrors.Wrap(scanErr, ferrors.CodeStorageError, "failed to fetch injection")
		return nil, false, err
	}
	r.InjectedAt = epochToTime(injectedAt)
	return &r, true, nil
}

// ListInjections returns the most recent injections, newest first.
func (s *Store) ListInjections(ctx context.Context, limit int) (out []InjectionRecord, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation("list_injections", storeOutcome(err), time.Since(start).Seconds())
	}()

	query := fmt.Sprintf(
		`SELECT id, target_url, parameter, payload, context, injected_at FROM injections ORDER BY injected_at DESC LIMIT %s`,
		s.ph(1),
	)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.CodeStorageError, "failed to list injections")
	}
	defer rows.Close()

	for rows.Next() {
		var rec InjectionRecord
		var injectedAt float64
		if scanErr := rows.Scan(&rec.ID, &rec.TargetURL, &rec.Parameter, &rec.Payload, &rec.Context, &injectedAt); scanErr != nil {
			return nil, ferrors.Wrap(scanErr, ferrors.CodeStorageError, "failed to scan injection row")
		}
		rec.InjectedAt = epochToTime(injectedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordCallback records a hit against correlationID. It returns false,
// with no row inserted, iff no injection with that id exists — the
// check-then-insert is a single INSERT ... SELECT ... WHERE EXISTS
// statement so the check and the insert are atomic within one round trip,
// per spec.md §4.2's "must execute as a single transaction" requirement.
func (s *Store) RecordCallback(ctx context.Context, correlationID, sourceIP, requestPath string, headers map[string]string, body []byte) (recorded bool, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation("record_callback", storeOutcome(err), time.Since(start).Seconds())
	}()

	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return false, ferrors.Wrap(err, ferrors.CodeStorageError, "failed to encode callback headers")
	}

	var query string
	if s.driver == "postgres" {
		query = `INSERT INTO callbacks (correlation_id, source_ip, request_path, headers, body, received_at)
			SELECT $1, $2, $3, $4, $5, $6 WHERE EXISTS (SELECT 1 FROM injections WHERE id = $7)`
	} else {
		query = `INSERT INTO callbacks (correlation_id, source_ip, request_path, headers, body, received_at)
			SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM injections WHERE id = ?)`
	}

	var affected int64
	err = writeRetryPolicy.Execute(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query, correlationID, sourceIP, requestPath, string(headerJSON), body, timeToEpoch(time.Now()), correlationID)
		if err != nil {
			return ferrors.Wrap(err, ferrors.CodeStorageError, "failed to record callback")
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return ferrors.Wrap(err, ferrors.CodeStorageError, "failed to confirm callback insert")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetCallbacksForInjection returns every callback recorded against id,
// newest first.
func (s *Store) GetCallbacksForInjection(ctx context.Context, id string) (out []CallbackRecord, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation("get_callbacks_for_injection", storeOutcome(err), time.Since(start).Seconds())
	}()

	query := fmt.Sprintf(
		`SELECT id, correlation_id, source_ip, request_path, headers, body, received_at FROM callbacks WHERE correlation_id = %s ORDER BY received_at DESC`,
		s.ph(1),
	)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.CodeStorageError, "failed to fetch callbacks")
	}
	defer rows.Close()

	for rows.Next() {
		rec, scanErr := scanCallback(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetFindings returns the join of injections and callbacks: every callback
// that matched a known injection, optionally filtered to those received
// after since and at or above minSeverity, newest first. The severity
// filter is applied in Go because severity is derived from the injection's
// free-form context column, not stored redundantly (spec.md §4.2).
func (s *Store) GetFindings(ctx context.Context, since *time.Time, minSeverity Severity) (out []Finding, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation("get_findings", storeOutcome(err), time.Since(start).Seconds())
	}()

	var (
		query string
		args  []any
	)
	base := `SELECT i.id, i.target_url, i.parameter, i.payload, i.context, i.injected_at,
		c.id, c.source_ip, c.request_path, c.headers, c.body, c.received_at
		FROM callbacks c JOIN injections i ON i.id = c.correlation_id`

	if since != nil {
		query = fmt.Sprintf("%s WHERE c.received_at > %s ORDER BY c.received_at DESC", base, s.ph(1))
		args = append(args, timeToEpoch(*since))
	} else {
		query = base + " ORDER BY c.received_at DESC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.CodeStorageError, "failed to fetch findings")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f          Finding
			injectedAt float64
			receivedAt float64
			headerJSON string
		)
		if scanErr := rows.Scan(
			&f.ID, &f.TargetURL, &f.Parameter, &f.Payload, &f.Context, &injectedAt,
			&f.CallbackID, &f.SourceIP, &f.RequestPath, &headerJSON, &f.Body, &receivedAt,
		); scanErr != nil {
			return nil, ferrors.Wrap(scanErr, ferrors.CodeStorageError, "failed to scan finding row")
		}
		f.InjectedAt = epochToTime(injectedAt)
		f.ReceivedAt = epochToTime(receivedAt)
		if unmarshalErr := json.Unmarshal([]byte(headerJSON), &f.Headers); unmarshalErr != nil {
			return nil, ferrors.Wrap(unmarshalErr, ferrors.CodeStorageError, "failed to decode finding headers")
		}
		if f.Severity() < minSeverity {
			continue
		}
		metrics.FindingsTotal.WithLabelValues(f.Severity().String()).Inc()
		out = append(out, f)
	}
	return out, rows.Err()
}

// storeOutcome classifies err for the store_operations_total/duration
// metric labels.
func storeOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func scanCallback(rows *sql.Rows) (CallbackRecord, error) {
	var (
		rec        CallbackRecord
		receivedAt float64
		headerJSON string
	)
	if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.SourceIP, &rec.RequestPath, &headerJSON, &rec.Body, &receivedAt); err != nil {
		return rec, ferrors.Wrap(err, ferrors.CodeStorageError, "failed to scan callback row")
	}
	rec.ReceivedAt = epochToTime(receivedAt)
	if err := json.Unmarshal([]byte(headerJSON), &rec.Headers); err != nil {
		return rec, ferrors.Wrap(err, ferrors.CodeStorageError, "failed to decode callback headers")
	}
	return rec, nil
}

// isDuplicateKeyErr recognizes the unique/primary-key-violation errors
// returned by modernc.org/sqlite and lib/pq without importing either
// driver's error type directly, since the message text is the one thing
// both drivers document as stable for this case.
func isDuplicateKeyErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed: unique")
}

func timeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func epochToTime(epoch float64) time.Time {
	return time.Unix(0, int64(epoch*1e9))
}
