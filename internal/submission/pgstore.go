package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formbridge/formbridge/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Create and Save run the
// submission write and the event appends in one transaction.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL submission store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Ping checks database connectivity. Used by readiness probes.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type submissionRow struct {
	fieldsJSON      []byte
	attributionJSON []byte
	seenKeysJSON    []byte
	uploadsJSON     []byte
	createdByJSON   []byte
	updatedByJSON   []byte
}

func marshalSubmission(sub model.Submission) (submissionRow, error) {
	var row submissionRow
	var err error
	if row.fieldsJSON, err = json.Marshal(sub.Fields); err != nil {
		return row, fmt.Errorf("marshal fields: %w", err)
	}
	if row.attributionJSON, err = json.Marshal(sub.FieldAttribution); err != nil {
		return row, fmt.Errorf("marshal attribution: %w", err)
	}
	if row.seenKeysJSON, err = json.Marshal(sub.SeenIdempotencyKeys); err != nil {
		return row, fmt.Errorf("marshal idempotency keys: %w", err)
	}
	if row.uploadsJSON, err = json.Marshal(sub.Uploads); err != nil {
		return row, fmt.Errorf("marshal uploads: %w", err)
	}
	if row.createdByJSON, err = json.Marshal(sub.CreatedBy); err != nil {
		return row, fmt.Errorf("marshal created_by: %w", err)
	}
	if row.updatedByJSON, err = json.Marshal(sub.UpdatedBy); err != nil {
		return row, fmt.Errorf("marshal updated_by: %w", err)
	}
	return row, nil
}

// Create inserts a new submission and its initial events in one transaction.
func (s *PgStore) Create(ctx context.Context, sub model.Submission, events []model.IntakeEvent) error {
	row, err := marshalSubmission(sub)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO submissions (
				id, intake_id, state, resume_token,
				fields, field_attribution, created_by, updated_by,
				created_at, updated_at, expires_at,
				seen_idempotency_keys, uploads, version
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8,
				$9, $10, $11,
				$12, $13, $14
			)`,
			sub.ID, sub.IntakeID, sub.State, sub.ResumeToken,
			row.fieldsJSON, row.attributionJSON, row.createdByJSON, row.updatedByJSON,
			sub.CreatedAt, sub.UpdatedAt, sub.ExpiresAt,
			row.seenKeysJSON, row.uploadsJSON, sub.Version,
		)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return s.appendEventsTx(ctx, tx, sub.ID, events)
	})
}

// Get retrieves a submission by ID.
func (s *PgStore) Get(ctx context.Context, id string) (model.Submission, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

// GetByResumeToken retrieves a submission by its current resume token.
func (s *PgStore) GetByResumeToken(ctx context.Context, tok string) (model.Submission, error) {
	sub, err := s.queryOne(ctx, `WHERE resume_token = $1`, tok)
	if err != nil {
		var envErr *model.ErrorEnvelope
		if errors.As(err, &envErr) && envErr.Type == model.ErrTypeNotFound {
			return model.Submission{}, model.NewNotFoundError("no submission for resume token")
		}
		return model.Submission{}, err
	}
	return sub, nil
}

// Save persists an updated submission with optimistic locking and appends
// events in the same transaction.
func (s *PgStore) Save(ctx context.Context, sub model.Submission, events []model.IntakeEvent) error {
	row, err := marshalSubmission(sub)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE submissions SET
				state = $1,
				resume_token = $2,
				fields = $3,
				field_attribution = $4,
				updated_by = $5,
				updated_at = $6,
				expires_at = $7,
				seen_idempotency_keys = $8,
				uploads = $9,
				version = $10
			WHERE id = $11 AND version = $12`,
			sub.State, sub.ResumeToken,
			row.fieldsJSON, row.attributionJSON, row.updatedByJSON,
			sub.UpdatedAt, sub.ExpiresAt,
			row.seenKeysJSON, row.uploadsJSON, sub.Version+1,
			sub.ID, sub.Version,
		)
		if err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(fmt.Sprintf(
				"submission %q version conflict (expected %d)", sub.ID, sub.Version))
		}
		return s.appendEventsTx(ctx, tx, sub.ID, events)
	})
}

// AppendEvents appends audit events without touching submission state. The
// row lock serializes position assignment against a concurrent Save, which
// holds the same lock through its UPDATE; without it two transactions could
// read the same MAX(position) and insert duplicate positions.
func (s *PgStore) AppendEvents(ctx context.Context, submissionID string, events []model.IntakeEvent) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id FROM submissions WHERE id = $1 FOR UPDATE`, submissionID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("submission %q not found", submissionID))
		}
		if err != nil {
			return fmt.Errorf("lock submission: %w", err)
		}
		return s.appendEventsTx(ctx, tx, submissionID, events)
	})
}

// appendEventsTx assigns positions from the current log tail and inserts.
func (s *PgStore) appendEventsTx(ctx context.Context, tx pgx.Tx, submissionID string, events []model.IntakeEvent) error {
	if len(events) == 0 {
		return nil
	}

	var base int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM intake_events
		WHERE submission_id = $1`, submissionID,
	).Scan(&base); err != nil {
		return fmt.Errorf("query event position: %w", err)
	}

	for i, evt := range events {
		actorJSON, err := json.Marshal(evt.Actor)
		if err != nil {
			return fmt.Errorf("marshal event actor: %w", err)
		}
		payloadJSON, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO intake_events (
				id, submission_id, position, type, actor, state, payload, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			evt.EventID, submissionID, base+int64(i)+1, evt.Type,
			actorJSON, evt.State, payloadJSON, evt.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// GetEvents returns a filtered view of a submission's events in log order.
func (s *PgStore) GetEvents(ctx context.Context, submissionID string, filter model.EventFilter) ([]model.IntakeEvent, error) {
	if _, err := s.Get(ctx, submissionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, position, type, actor, state, payload, created_at
		FROM intake_events
		WHERE submission_id = $1
		ORDER BY position ASC`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	// Type/actor/time filtering happens here rather than in SQL so the
	// filter semantics stay identical across store implementations.
	var result []model.IntakeEvent
	for rows.Next() {
		var evt model.IntakeEvent
		var actorJSON, payloadJSON []byte
		if err := rows.Scan(
			&evt.EventID, &evt.SubmissionID, &evt.Position, &evt.Type,
			&actorJSON, &evt.State, &payloadJSON, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(actorJSON, &evt.Actor); err != nil {
			return nil, fmt.Errorf("unmarshal event actor: %w", err)
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &evt.Payload)
		}
		if filter.Matches(evt) {
			result = append(result, evt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []model.IntakeEvent{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// RecordAttempt persists one delivery attempt.
func (s *PgStore) RecordAttempt(ctx context.Context, attempt model.DeliveryAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (
			id, submission_id, attempt, outcome, response_code,
			next_retry_at, error_detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		attempt.DeliveryID, attempt.SubmissionID, attempt.Attempt, attempt.Outcome,
		attempt.ResponseCode, attempt.NextRetryAt, attempt.Error, attempt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// GetAttempts returns a submission's delivery attempts in order.
func (s *PgStore) GetAttempts(ctx context.Context, submissionID string) ([]model.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, attempt, outcome, response_code,
		       next_retry_at, error_detail, created_at
		FROM delivery_attempts
		WHERE submission_id = $1
		ORDER BY created_at ASC, attempt ASC`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	var result []model.DeliveryAttempt
	for rows.Next() {
		var a model.DeliveryAttempt
		if err := rows.Scan(
			&a.DeliveryID, &a.SubmissionID, &a.Attempt, &a.Outcome,
			&a.ResponseCode, &a.NextRetryAt, &a.Error, &a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// List returns submissions for an intake, newest first.
func (s *PgStore) List(ctx context.Context, intakeID string, filters ListFilters) ([]model.Submission, error) {
	query := selectSubmission + ` WHERE intake_id = $1`
	args := []any{intakeID}
	argIdx := 2

	if filters.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, filters.State)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	return s.queryMany(ctx, query, args...)
}

// FindExpired returns non-terminal submissions past their expiration time.
func (s *PgStore) FindExpired(ctx context.Context, cutoff time.Time) ([]model.Submission, error) {
	query := selectSubmission + `
		WHERE state NOT IN ('finalized', 'cancelled', 'rejected', 'expired')
		AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC`
	return s.queryMany(ctx, query, cutoff)
}

const selectSubmission = `
	SELECT id, intake_id, state, resume_token,
	       fields, field_attribution, created_by, updated_by,
	       created_at, updated_at, expires_at,
	       seen_idempotency_keys, uploads, version
	FROM submissions`

func (s *PgStore) queryOne(ctx context.Context, where string, args ...any) (model.Submission, error) {
	rows, err := s.queryMany(ctx, selectSubmission+" "+where, args...)
	if err != nil {
		return model.Submission{}, err
	}
	if len(rows) == 0 {
		return model.Submission{}, model.NewNotFoundError("submission not found")
	}
	return rows[0], nil
}

func (s *PgStore) queryMany(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var result []model.Submission
	for rows.Next() {
		var sub model.Submission
		var fieldsJSON, attributionJSON, createdByJSON, updatedByJSON, seenKeysJSON, uploadsJSON []byte
		if err := rows.Scan(
			&sub.ID, &sub.IntakeID, &sub.State, &sub.ResumeToken,
			&fieldsJSON, &attributionJSON, &createdByJSON, &updatedByJSON,
			&sub.CreatedAt, &sub.UpdatedAt, &sub.ExpiresAt,
			&seenKeysJSON, &uploadsJSON, &sub.Version,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		for _, pair := range []struct {
			data []byte
			dest any
		}{
			{fieldsJSON, &sub.Fields},
			{attributionJSON, &sub.FieldAttribution},
			{createdByJSON, &sub.CreatedBy},
			{updatedByJSON, &sub.UpdatedBy},
			{seenKeysJSON, &sub.SeenIdempotencyKeys},
			{uploadsJSON, &sub.Uploads},
		} {
			if pair.data != nil {
				if err := json.Unmarshal(pair.data, pair.dest); err != nil {
					return nil, fmt.Errorf("unmarshal submission column: %w", err)
				}
			}
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}
