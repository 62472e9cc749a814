package collections

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/dental-collections/internal/notify"
)

func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.clinic_id, p.name, COALESCE(p.email, ''),
			ARRAY(SELECT ph.phone FROM patient_phones ph WHERE ph.patient_id = p.id ORDER BY ph.position, ph.phone)
		FROM patients p
		WHERE p.id = $1
	`, id).Scan(&p.ID, &p.ClinicID, &p.Name, &p.Email, &p.Phones)
	if err != nil {
		return nil, fmt.Errorf("collections: get patient: %w", notFound(err))
	}
	return &p, nil
}

func (s *Store) GetContract(ctx context.Context, id uuid.UUID) (*Contract, error) {
	var c Contract
	err := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, clinic_id, do_notifications FROM contracts WHERE id = $1
	`, id).Scan(&c.ID, &c.PatientID, &c.ClinicID, &c.DoNotifications)
	if err != nil {
		return nil, fmt.Errorf("collections: get contract: %w", notFound(err))
	}
	return &c, nil
}

const installmentColumns = `id, contract_id, number, due_date, amount::text, received`

func scanInstallment(row scanner) (*Installment, error) {
	var (
		inst   Installment
		amount string
	)
	if err := row.Scan(&inst.ID, &inst.ContractID, &inst.Number, &inst.DueDate, &amount, &inst.Received); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	inst.Amount = d
	return &inst, nil
}

// CurrentInstallment returns the oldest unpaid installment, or nil when the
// contract is fully paid.
func (s *Store) CurrentInstallment(ctx context.Context, contractID uuid.UUID) (*Installment, error) {
	inst, err := scanInstallment(s.pool.QueryRow(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE contract_id = $1 AND NOT received
		ORDER BY due_date, number
		LIMIT 1
	`, contractID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collections: current installment: %w", err)
	}
	return inst, nil
}

func (s *Store) GetInstallment(ctx context.Context, id uuid.UUID) (*Installment, error) {
	inst, err := scanInstallment(s.pool.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("collections: get installment: %w", notFound(err))
	}
	return inst, nil
}

func (s *Store) MinDaysOverdue(ctx context.Context, clinicID uuid.UUID) (int, bool, error) {
	var days int
	err := s.pool.QueryRow(ctx, `SELECT min_days_overdue FROM billing_settings WHERE clinic_id = $1`, clinicID).Scan(&days)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("collections: billing settings: %w", err)
	}
	return days, true, nil
}

func (s *Store) ListActiveClinics(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM clinics WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("collections: list clinics: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("collections: scan clinic: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const messageColumns = `id, channel, step, clinic_id, COALESCE(subject, ''), content, is_default`

func scanMessage(row scanner) (*Message, error) {
	var (
		m       Message
		channel string
	)
	if err := row.Scan(&m.ID, &channel, &m.Step, &m.ClinicID, &m.Subject, &m.Content, &m.IsDefault); err != nil {
		return nil, err
	}
	m.Channel = notify.Channel(channel)
	return &m, nil
}

// GetMessage prefers the clinic's own template over the global default. It
// returns nil when neither exists.
func (s *Store) GetMessage(ctx context.Context, channel notify.Channel, step int, clinicID uuid.UUID) (*Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE channel = $1 AND step = $2 AND (clinic_id = $3 OR (clinic_id IS NULL AND is_default))
		ORDER BY clinic_id NULLS LAST
		LIMIT 1
	`, string(channel), step, clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collections: get message: %w", err)
	}
	return m, nil
}

func (s *Store) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("collections: get message: %w", notFound(err))
	}
	return m, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]FlowStepPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT step_number, channels, cooldown_days, active, COALESCE(description, '')
		FROM flow_step_config
		ORDER BY step_number
	`)
	if err != nil {
		return nil, fmt.Errorf("collections: list policies: %w", err)
	}
	defer rows.Close()

	var out []FlowStepPolicy
	for rows.Next() {
		var (
			p        FlowStepPolicy
			channels []string
		)
		if err := rows.Scan(&p.StepNumber, &channels, &p.CooldownDays, &p.Active, &p.Description); err != nil {
			return nil, fmt.Errorf("collections: scan policy: %w", err)
		}
		for _, ch := range channels {
			p.Channels = append(p.Channels, notify.Channel(ch))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPolicies writes the step table in one transaction.
func (s *Store) UpsertPolicies(ctx context.Context, policies []FlowStepPolicy) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, p := range policies {
			channels := make([]string, 0, len(p.Channels))
			for _, ch := range p.Channels {
				channels = append(channels, string(ch))
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO flow_step_config (step_number, channels, cooldown_days, active, description)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (step_number) DO UPDATE
				SET channels = EXCLUDED.channels,
					cooldown_days = EXCLUDED.cooldown_days,
					active = EXCLUDED.active,
					description = EXCLUDED.description,
					updated_at = now()
			`, p.StepNumber, channels, p.CooldownDays, p.Active, p.Description); err != nil {
				return fmt.Errorf("step %d: %w", p.StepNumber, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collections: upsert policies: %w", err)
	}
	return nil
}
