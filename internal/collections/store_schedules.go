package collections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/dental-collections/internal/notify"
)

const scheduleColumns = `id, patient_id, contract_id, clinic_id, installment_id, current_step,
	channel, scheduled_date, status, trigger, advance_flow, created_at, updated_at`

func scanSchedule(row scanner) (ContactSchedule, error) {
	var (
		s                        ContactSchedule
		channel, status, trigger string
	)
	if err := row.Scan(&s.ID, &s.PatientID, &s.ContractID, &s.ClinicID, &s.InstallmentID, &s.CurrentStep,
		&channel, &s.ScheduledDate, &status, &trigger, &s.AdvanceFlow, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return ContactSchedule{}, err
	}
	s.Channel = notify.Channel(channel)
	s.Status = ScheduleStatus(status)
	s.Trigger = Trigger(trigger)
	return s, nil
}

func collectSchedules(rows pgx.Rows) ([]ContactSchedule, error) {
	defer rows.Close()
	var out []ContactSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *Store) ReplacePending(ctx context.Context, req ReplaceRequest) ([]ContactSchedule, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerAutomated
	}
	now := time.Now().UTC()
	created := make([]ContactSchedule, 0, len(req.Channels))

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if req.ApproveID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE contact_schedules
				SET status = 'approved', updated_at = now()
				WHERE id = $1 AND status IN ('pending', 'processing')
			`, *req.ApproveID); err != nil {
				return fmt.Errorf("approve: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE contact_schedules
			SET status = 'cancelled', updated_at = now()
			WHERE patient_id = $1 AND status = 'pending' AND trigger = 'automated'
		`, req.PatientID); err != nil {
			return fmt.Errorf("cancel pending: %w", err)
		}
		for i, ch := range req.Channels {
			row := ContactSchedule{
				ID:            uuid.New(),
				PatientID:     req.PatientID,
				ContractID:    req.ContractID,
				ClinicID:      req.ClinicID,
				InstallmentID: req.InstallmentID,
				CurrentStep:   req.Step,
				Channel:       ch,
				ScheduledDate: req.ScheduledDate,
				Status:        StatusPending,
				Trigger:       trigger,
				AdvanceFlow:   i == 0,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO contact_schedules (id, patient_id, contract_id, clinic_id, installment_id,
					current_step, channel, scheduled_date, status, trigger, advance_flow)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10)
			`, row.ID, row.PatientID, row.ContractID, row.ClinicID, row.InstallmentID,
				row.CurrentStep, string(row.Channel), row.ScheduledDate, string(row.Trigger), row.AdvanceFlow); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s step %d", ErrScheduleConflict, ch, req.Step)
				}
				return fmt.Errorf("insert schedule: %w", err)
			}
			created = append(created, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collections: replace pending: %w", err)
	}
	return created, nil
}

func (s *Store) CancelPendingForPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contact_schedules
		SET status = 'cancelled', updated_at = now()
		WHERE patient_id = $1 AND status = 'pending' AND trigger = 'automated'
	`, patientID)
	if err != nil {
		return 0, fmt.Errorf("collections: cancel pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListDueGroups(ctx context.Context, filter DueGroupFilter) ([]GroupKey, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT patient_id, contract_id, current_step, MIN(scheduled_date) AS first_due
		FROM contact_schedules
		WHERE clinic_id = $1
			AND status = 'pending'
			AND channel <> 'letter'
			AND scheduled_date <= $2
		GROUP BY patient_id, contract_id, current_step
		ORDER BY first_due
		LIMIT $3
	`, filter.ClinicID, filter.DueAt, limit)
	if err != nil {
		return nil, fmt.Errorf("collections: list due groups: %w", err)
	}
	defer rows.Close()

	var out []GroupKey
	for rows.Next() {
		key := GroupKey{ClinicID: filter.ClinicID}
		var firstDue time.Time
		if err := rows.Scan(&key.PatientID, &key.ContractID, &key.Step, &firstDue); err != nil {
			return nil, fmt.Errorf("collections: scan due group: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) ClaimGroup(ctx context.Context, key GroupKey, dueAt time.Time) ([]ContactSchedule, error) {
	var claimed []ContactSchedule
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH locked AS (
				SELECT id FROM contact_schedules
				WHERE clinic_id = $1
					AND patient_id = $2
					AND contract_id IS NOT DISTINCT FROM $3
					AND current_step = $4
					AND status = 'pending'
					AND channel <> 'letter'
					AND scheduled_date <= $5
				FOR UPDATE SKIP LOCKED
			)
			UPDATE contact_schedules cs
			SET status = 'processing', updated_at = now()
			FROM locked
			WHERE cs.id = locked.id
			RETURNING cs.id, cs.patient_id, cs.contract_id, cs.clinic_id, cs.installment_id, cs.current_step,
				cs.channel, cs.scheduled_date, cs.status, cs.trigger, cs.advance_flow, cs.created_at, cs.updated_at
		`, key.ClinicID, key.PatientID, key.ContractID, key.Step, dueAt)
		if err != nil {
			return err
		}
		claimed, err = collectSchedules(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("collections: claim group: %w", err)
	}
	return claimed, nil
}

const insertOutcomeSQL = `
	INSERT INTO contact_history (id, schedule_id, patient_id, contract_id, clinic_id, message_id,
		contact_type, step, sent_at, success, observation, advance_flow, trigger)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (schedule_id, contact_type, advance_flow) DO NOTHING`

// insertOutcome reports false when the history row already existed.
func insertOutcome(ctx context.Context, tx pgx.Tx, o Outcome) (bool, error) {
	sched := o.Schedule
	tag, err := tx.Exec(ctx, insertOutcomeSQL,
		uuid.New(), sched.ID, sched.PatientID, sched.ContractID, sched.ClinicID, o.MessageID,
		string(sched.Channel), sched.CurrentStep, o.SentAt, o.Success, o.Observation, sched.AdvanceFlow, string(sched.Trigger))
	if err != nil {
		return false, fmt.Errorf("insert history: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RecordOutcomes(ctx context.Context, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	skipped := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, o := range outcomes {
			inserted, err := insertOutcome(ctx, tx, o)
			if err != nil {
				return err
			}
			if !inserted {
				skipped++
			}

			status := StatusRejected
			if o.Success {
				status = StatusApproved
			}
			if _, err := tx.Exec(ctx, `
				UPDATE contact_schedules
				SET status = $2, updated_at = now()
				WHERE id = $1 AND status = 'processing'
			`, o.Schedule.ID, string(status)); err != nil {
				return fmt.Errorf("update schedule status: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collections: record outcomes: %w", err)
	}
	if skipped > 0 {
		s.logger.Info("contact history already present, rows skipped", "skipped", skipped)
	}
	return nil
}

func (s *Store) CreateManualSchedule(ctx context.Context, row ContactSchedule) (*ContactSchedule, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	created, err := scanSchedule(s.pool.QueryRow(ctx, `
		INSERT INTO contact_schedules (id, patient_id, contract_id, clinic_id, installment_id,
			current_step, channel, scheduled_date, status, trigger, advance_flow)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'processing', 'manual', false)
		RETURNING `+scheduleColumns,
		row.ID, row.PatientID, row.ContractID, row.ClinicID, row.InstallmentID,
		row.CurrentStep, string(row.Channel), row.ScheduledDate))
	if err != nil {
		return nil, fmt.Errorf("collections: create manual schedule: %w", err)
	}
	return &created, nil
}

// RejectStale closes rows left in processing by a worker that never
// recorded them.
func (s *Store) RejectStale(ctx context.Context, clinicID uuid.UUID, cutoff time.Time) (int64, error) {
	var stale []ContactSchedule
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE contact_schedules
			SET status = 'rejected', updated_at = now()
			WHERE clinic_id = $1 AND status = 'processing' AND updated_at < $2
			RETURNING `+scheduleColumns,
			clinicID, cutoff)
		if err != nil {
			return fmt.Errorf("reject stale: %w", err)
		}
		stale, err = collectSchedules(rows)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, sched := range stale {
			if _, err := insertOutcome(ctx, tx, Outcome{
				Schedule:    sched,
				Observation: observationStale,
				SentAt:      now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("collections: reject stale: %w", err)
	}
	return int64(len(stale)), nil
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*ContactSchedule, error) {
	sched, err := scanSchedule(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM contact_schedules WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("collections: get schedule: %w", notFound(err))
	}
	return &sched, nil
}

func (s *Store) ApproveSchedule(ctx context.Context, id uuid.UUID) (*ContactSchedule, error) {
	if _, err := s.pool.Exec(ctx, `
		UPDATE contact_schedules
		SET status = 'approved', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id); err != nil {
		return nil, fmt.Errorf("collections: approve schedule: %w", err)
	}
	return s.GetSchedule(ctx, id)
}

func (s *Store) LatestForContract(ctx context.Context, patientID, contractID uuid.UUID) (*ContactSchedule, error) {
	sched, err := scanSchedule(s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM contact_schedules
		WHERE patient_id = $1 AND contract_id = $2 AND trigger = 'automated'
		ORDER BY created_at DESC, current_step DESC
		LIMIT 1
	`, patientID, contractID))
	if err != nil {
		return nil, fmt.Errorf("collections: latest schedule: %w", notFound(err))
	}
	return &sched, nil
}

func (s *Store) Summary(ctx context.Context, clinicID uuid.UUID) (*ScheduleSummary, error) {
	sum := &ScheduleSummary{ClinicID: clinicID, ByStatus: make(map[ScheduleStatus]int)}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM contact_schedules WHERE clinic_id = $1 GROUP BY status
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("collections: summary by status: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("collections: scan status count: %w", err)
		}
		sum.ByStatus[ScheduleStatus(status)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT channel, COUNT(*) FROM contact_schedules WHERE clinic_id = $1 GROUP BY channel ORDER BY channel
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("collections: summary by channel: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			channel string
			count   int
		)
		if err := rows.Scan(&channel, &count); err != nil {
			return nil, fmt.Errorf("collections: scan channel count: %w", err)
		}
		sum.ByChannel = append(sum.ByChannel, ChannelCount{Channel: notify.Channel(channel), Count: count})
	}
	return sum, rows.Err()
}
