package collections

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/dental-collections/internal/notify"
)

const callColumns = `id, patient_id, contract_id, clinic_id, schedule_id, current_step, scheduled_at,
	status, attempts, last_attempt_at, COALESCE(result_notes, ''), created_at`

func scanCall(row scanner) (PendingCall, error) {
	var (
		c      PendingCall
		status string
	)
	if err := row.Scan(&c.ID, &c.PatientID, &c.ContractID, &c.ClinicID, &c.ScheduleID, &c.CurrentStep, &c.ScheduledAt,
		&status, &c.Attempts, &c.LastAttemptAt, &c.ResultNotes, &c.CreatedAt); err != nil {
		return PendingCall{}, err
	}
	c.Status = PendingCallStatus(status)
	return c, nil
}

// UpsertPendingCall relies on the partial unique index over pending calls so
// concurrent escalations of the same step converge on one row.
func (s *Store) UpsertPendingCall(ctx context.Context, call PendingCall) (*PendingCall, error) {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	got, err := scanCall(s.pool.QueryRow(ctx, `
		INSERT INTO pending_calls (id, patient_id, contract_id, clinic_id, schedule_id, current_step, scheduled_at, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0)
		ON CONFLICT (patient_id, (COALESCE(contract_id, '00000000-0000-0000-0000-000000000000'::uuid)), current_step)
			WHERE status = 'pending'
		DO UPDATE SET updated_at = now()
		RETURNING `+callColumns,
		call.ID, call.PatientID, call.ContractID, call.ClinicID, call.ScheduleID, call.CurrentStep, call.ScheduledAt))
	if err != nil {
		return nil, fmt.Errorf("collections: upsert pending call: %w", err)
	}
	return &got, nil
}

func (s *Store) ResolvePendingCall(ctx context.Context, req ResolveCallRequest) (*PendingCall, bool, error) {
	var (
		call    PendingCall
		changed bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		call, err = scanCall(tx.QueryRow(ctx, `SELECT `+callColumns+` FROM pending_calls WHERE id = $1 FOR UPDATE`, req.CallID))
		if err != nil {
			return notFound(err)
		}
		if call.Status != CallPending {
			return nil
		}

		status := CallFailed
		if req.Success {
			status = CallDone
		}
		if _, err := tx.Exec(ctx, `
			UPDATE pending_calls
			SET status = $2, attempts = attempts + 1, last_attempt_at = $3, result_notes = $4, updated_at = now()
			WHERE id = $1
		`, call.ID, string(status), req.ResolvedAt, req.Notes); err != nil {
			return fmt.Errorf("update call: %w", err)
		}

		// The escalation already wrote (schedule, phonecall, advance_flow);
		// the resolution takes the opposite flag so both rows fit the key.
		if _, err := tx.Exec(ctx, `
			INSERT INTO contact_history (id, schedule_id, pending_call_id, patient_id, contract_id, clinic_id,
				contact_type, step, sent_at, success, observation, advance_flow, trigger)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
				COALESCE(NOT (SELECT advance_flow FROM contact_schedules WHERE id = $2), false), $12)
		`, uuid.New(), call.ScheduleID, call.ID, call.PatientID, call.ContractID, call.ClinicID,
			string(notify.ChannelPhoneCall), call.CurrentStep, req.ResolvedAt, req.Success, req.Notes, string(TriggerManual)); err != nil {
			return fmt.Errorf("insert call history: %w", err)
		}

		resolvedAt := req.ResolvedAt
		call.Status = status
		call.Attempts++
		call.LastAttemptAt = &resolvedAt
		call.ResultNotes = req.Notes
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("collections: resolve pending call: %w", err)
	}
	return &call, changed, nil
}

func (s *Store) ListPendingCalls(ctx context.Context, filter PendingCallFilter) ([]PendingCall, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM pending_calls
		WHERE clinic_id = $1 AND status = 'pending' AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
	`, filter.ClinicID, filter.Before, limit)
	if err != nil {
		return nil, fmt.Errorf("collections: list pending calls: %w", err)
	}
	defer rows.Close()

	var out []PendingCall
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("collections: scan pending call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
