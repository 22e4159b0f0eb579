package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/spoton/recommendation-service/internal/domain"
)

// txBeginner is implemented by pools (*database.DB, pgxmock pools) but not by
// pgx.Tx. Methods that lock rows open their own transaction when given one.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Names of the PostgreSQL conditions the repository maps to domain errors.
const (
	pgUniqueViolation     = "unique_violation"
	pgForeignKeyViolation = "foreign_key_violation"
)

// defaultEventPage bounds EventsAfter when the caller passes no limit.
const defaultEventPage = 100

// validStatusTransitions defines the allowed run status transitions.
var validStatusTransitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunStatusQueued: {
		domain.RunStatusRunning,
		domain.RunStatusError,
		domain.RunStatusCancelled,
	},
	domain.RunStatusRunning: {
		domain.RunStatusDone,
		domain.RunStatusError,
		domain.RunStatusCancelled,
	},
}

const runColumns = `id, status, prompt, constraints, skip_enrichment, warnings,
			final_output, error_message, duration_ms,
			created_at, updated_at, started_at, completed_at`

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db  DBTX
	now func() time.Time
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new run.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if !run.Status.Valid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown run status %q", run.Status))
	}

	constraintsJSON, err := marshalNullable(run.Constraints)
	if err != nil {
		return fmt.Errorf("failed to marshal constraints: %w", err)
	}
	warningsJSON, err := json.Marshal(nonNilStrings(run.Warnings))
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO runs (
			id, status, prompt, constraints, skip_enrichment, warnings,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.Status, run.Prompt, constraintsJSON, run.SkipEnrichment, warningsJSON,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if pgErrorIs(err, pgUniqueViolation) {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Get retrieves a run and its node progress.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT node, event FROM run_node_progress WHERE run_id = $1 ORDER BY node`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query node progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			node      string
			eventJSON []byte
			ev        domain.NodeEvent
		)
		if err := rows.Scan(&node, &eventJSON); err != nil {
			return nil, fmt.Errorf("failed to scan node progress: %w", err)
		}
		if err := json.Unmarshal(eventJSON, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node progress: %w", err)
		}
		run.NodeProgress[node] = ev
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node progress: %w", err)
	}

	return run, nil
}

// List retrieves runs matching the filter criteria.
func (r *PgRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.Run, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	conditions := []string{"TRUE"}
	var args []interface{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(conditions, " AND ")

	var totalCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM runs WHERE %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM runs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		runColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0, filter.Limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, totalCount, nil
}

// UpdateStatus moves a run to status under a row lock.
func (r *PgRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error {
	return r.inTx(ctx, func(tx *PgRunRepository) error {
		from, startedAt, err := tx.lockStatus(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(id, from, status); err != nil {
			return err
		}

		now := tx.now()
		var (
			started   *time.Time
			completed *time.Time
			duration  int64
			message   *string
		)
		if status == domain.RunStatusRunning {
			started = &now
		}
		if status.IsTerminal() {
			completed = &now
			if startedAt != nil {
				duration = now.Sub(*startedAt).Milliseconds()
			}
		}
		if status == domain.RunStatusError {
			message = nullString(errorMsg)
		}

		query := `
			UPDATE runs SET
				status = $1,
				error_message = COALESCE($2, error_message),
				updated_at = $3,
				started_at = COALESCE(started_at, $4),
				completed_at = $5,
				duration_ms = $6
			WHERE id = $7`

		if _, err := tx.db.Exec(ctx, query, status, message, now, started, completed, duration, id); err != nil {
			return fmt.Errorf("failed to update run status: %w", err)
		}
		return nil
	})
}

// Complete moves a running run to done and stores its results.
func (r *PgRunRepository) Complete(ctx context.Context, id uuid.UUID, completion domain.RunCompletion) error {
	constraintsJSON, err := marshalNullable(completion.Constraints)
	if err != nil {
		return fmt.Errorf("failed to marshal constraints: %w", err)
	}
	warningsJSON, err := json.Marshal(nonNilStrings(completion.Warnings))
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	outputJSON, err := marshalNullable(completion.FinalOutput)
	if err != nil {
		return fmt.Errorf("failed to marshal final output: %w", err)
	}

	return r.inTx(ctx, func(tx *PgRunRepository) error {
		from, _, err := tx.lockStatus(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(id, from, domain.RunStatusDone); err != nil {
			return err
		}

		query := `
			UPDATE runs SET
				status = $1,
				constraints = COALESCE($2, constraints),
				warnings = $3,
				final_output = $4,
				duration_ms = $5,
				updated_at = $6,
				completed_at = $6
			WHERE id = $7`

		_, err = tx.db.Exec(ctx, query,
			domain.RunStatusDone, constraintsJSON, warningsJSON, outputJSON,
			completion.Duration.Milliseconds(), tx.now(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		return nil
	})
}

// AppendEvent appends a node event to the run's log.
func (r *PgRunRepository) AppendEvent(ctx context.Context, runID uuid.UUID, ev domain.NodeEvent) error {
	ev.Timestamp = eventTime(ev.Timestamp, r.now)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal node event: %w", err)
	}
	return r.appendEvent(ctx, runID, domain.RunEventNode, ev.Node, string(ev.Phase), payload, ev.Timestamp)
}

// SetNodeProgress upserts the latest event of a node.
func (r *PgRunRepository) SetNodeProgress(ctx context.Context, runID uuid.UUID, node string, ev domain.NodeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal node event: %w", err)
	}

	query := `
		INSERT INTO run_node_progress (run_id, node, event, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, node) DO UPDATE
		SET event = EXCLUDED.event, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query, runID, node, payload, r.now()); err != nil {
		if pgErrorIs(err, pgForeignKeyViolation) {
			return domain.NewNotFoundError("run", runID.String())
		}
		return fmt.Errorf("failed to set node progress: %w", err)
	}
	return nil
}

// AppendLog appends a run-level log entry.
func (r *PgRunRepository) AppendLog(ctx context.Context, runID uuid.UUID, entry domain.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return r.appendEvent(ctx, runID, domain.RunEventLog, "", entry.Level, payload, eventTime(time.Time{}, r.now))
}

// SaveArtifact stores an artifact and appends an artifact event.
func (r *PgRunRepository) SaveArtifact(ctx context.Context, artifact domain.Artifact) error {
	if artifact.Name == "" {
		return domain.NewValidationError("name", "artifact name is required")
	}
	artifact.CreatedAt = eventTime(artifact.CreatedAt, r.now)
	eventPayload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	return r.inTx(ctx, func(tx *PgRunRepository) error {
		query := `
			INSERT INTO run_artifacts (run_id, name, payload, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (run_id, name) DO UPDATE
			SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`

		_, err := tx.db.Exec(ctx, query, artifact.RunID, artifact.Name, []byte(artifact.Payload), artifact.CreatedAt)
		if err != nil {
			if pgErrorIs(err, pgForeignKeyViolation) {
				return domain.NewNotFoundError("run", artifact.RunID.String())
			}
			return fmt.Errorf("failed to save artifact: %w", err)
		}
		return tx.appendEvent(ctx, artifact.RunID, domain.RunEventArtifact, "", artifact.Name, eventPayload, artifact.CreatedAt)
	})
}

// EventsAfter returns the events of a run strictly after cursor.
func (r *PgRunRepository) EventsAfter(ctx context.Context, runID uuid.UUID, cursor EventCursor, limit int) ([]domain.RunEvent, error) {
	if limit <= 0 {
		limit = defaultEventPage
	}

	query := `
		SELECT id, run_id, kind, payload, ts
		FROM run_events
		WHERE run_id = $1 AND (ts, id) > ($2, $3)
		ORDER BY ts, id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, runID, cursor.Timestamp, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.RunEvent, 0, limit)
	for rows.Next() {
		var (
			ev      domain.RunEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Kind, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run events: %w", err)
	}

	return events, nil
}

func (r *PgRunRepository) appendEvent(ctx context.Context, runID uuid.UUID, kind domain.RunEventKind, node, phase string, payload []byte, ts time.Time) error {
	query := `
		INSERT INTO run_events (id, run_id, kind, node, phase, payload, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT uq_run_events_natural DO NOTHING`

	if _, err := r.db.Exec(ctx, query, uuid.New(), runID, kind, node, phase, payload, ts); err != nil {
		if pgErrorIs(err, pgForeignKeyViolation) {
			return domain.NewNotFoundError("run", runID.String())
		}
		return fmt.Errorf("failed to append %s event: %w", kind, err)
	}
	return nil
}

// inTx runs fn in a transaction unless the repository already wraps one.
func (r *PgRunRepository) inTx(ctx context.Context, fn func(tx *PgRunRepository) error) error {
	beginner, ok := r.db.(txBeginner)
	if !ok {
		return fn(r)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&PgRunRepository{db: tx, now: r.now}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockStatus reads the status of a run with SELECT FOR UPDATE.
func (r *PgRunRepository) lockStatus(ctx context.Context, id uuid.UUID) (domain.RunStatus, *time.Time, error) {
	var (
		status    domain.RunStatus
		startedAt *time.Time
	)
	err := r.db.QueryRow(ctx, `SELECT status, started_at FROM runs WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, domain.NewNotFoundError("run", id.String())
		}
		return "", nil, fmt.Errorf("failed to lock run: %w", err)
	}
	return status, startedAt, nil
}

func checkTransition(id uuid.UUID, from, to domain.RunStatus) error {
	if isValidStatusTransition(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return domain.NewConflictError("run", id.String(), fmt.Sprintf("run is already %s", from))
	}
	return domain.NewConflictError("run", id.String(), fmt.Sprintf("cannot move from %s to %s", from, to))
}

// isValidStatusTransition validates that a status transition is allowed.
func isValidStatusTransition(from, to domain.RunStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, s := range validStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// pgErrorIs reports whether err is a PostgreSQL error with the given condition name.
func pgErrorIs(err error, condition string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pq.ErrorCode(pgErr.Code).Name() == condition
	}
	return false
}

// runScanDest holds the destination pointers for scanning a run row.
type runScanDest struct {
	run             domain.Run
	constraintsJSON []byte
	warningsJSON    []byte
	outputJSON      []byte
	errorMessage    *string
}

func (d *runScanDest) destinations() []interface{} {
	return []interface{}{
		&d.run.ID, &d.run.Status, &d.run.Prompt, &d.constraintsJSON, &d.run.SkipEnrichment, &d.warningsJSON,
		&d.outputJSON, &d.errorMessage, &d.run.DurationMs,
		&d.run.CreatedAt, &d.run.UpdatedAt, &d.run.StartedAt, &d.run.CompletedAt,
	}
}

func (d *runScanDest) finalize() (*domain.Run, error) {
	if d.errorMessage != nil {
		d.run.ErrorMessage = *d.errorMessage
	}
	if len(d.constraintsJSON) > 0 {
		var c domain.Constraints
		if err := json.Unmarshal(d.constraintsJSON, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal constraints: %w", err)
		}
		d.run.Constraints = &c
	}
	d.run.Warnings = []string{}
	if len(d.warningsJSON) > 0 {
		if err := json.Unmarshal(d.warningsJSON, &d.run.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	if len(d.outputJSON) > 0 {
		var out domain.FinalOutput
		if err := json.Unmarshal(d.outputJSON, &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal final output: %w", err)
		}
		d.run.FinalOutput = &out
	}
	d.run.NodeProgress = map[string]domain.NodeEvent{}
	return &d.run, nil
}

// scanRun scans a single row from a pgx.Row or pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var dest runScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// eventTime stamps zero times with now and truncates to the database precision
// so cursors built from stored rows compare equal to what was written.
func eventTime(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		t = now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
