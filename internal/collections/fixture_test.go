package collections

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

const testTemplate = "Olá {{ nome }}, sua parcela de {{ valor }} vence em {{ vencimento }}."

func testPolicies() []FlowStepPolicy {
	return []FlowStepPolicy{
		{StepNumber: 0, Channels: []notify.Channel{notify.ChannelSMS, notify.ChannelWhatsApp}, CooldownDays: 7, Active: true},
		{StepNumber: 1, Channels: []notify.Channel{notify.ChannelSMS, notify.ChannelWhatsApp}, CooldownDays: 7, Active: true},
		{StepNumber: 2, Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelWhatsApp}, CooldownDays: 7, Active: true},
		{StepNumber: 3, Channels: []notify.Channel{notify.ChannelPhoneCall}, CooldownDays: 7, Active: true},
		{StepNumber: 4, Channels: []notify.Channel{notify.ChannelSMS, notify.ChannelPhoneCall}, CooldownDays: 0, Active: true},
		{StepNumber: 5, Channels: []notify.Channel{notify.ChannelLetter}, CooldownDays: 7, Active: true},
	}
}

type fixture struct {
	store    *memStore
	sms      *recordingNotifier
	whatsapp *recordingNotifier
	email    *recordingNotifier
	pub      *recordingPublisher
	metrics  *recordingMetrics
	logs     *bytes.Buffer
	engine   *Engine

	clinicID      uuid.UUID
	patientID     uuid.UUID
	contractID    uuid.UUID
	installmentID uuid.UUID
}

// newFixture seeds one clinic, patient, contract and installment due on dueDate.
func newFixture(t *testing.T, dueDate time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:         newMemStore(),
		sms:           &recordingNotifier{},
		whatsapp:      &recordingNotifier{},
		email:         &recordingNotifier{},
		pub:           &recordingPublisher{},
		metrics:       &recordingMetrics{},
		logs:          &bytes.Buffer{},
		clinicID:      uuid.New(),
		patientID:     uuid.New(),
		contractID:    uuid.New(),
		installmentID: uuid.New(),
	}
	f.store.policies = testPolicies()
	f.store.clinics = []uuid.UUID{f.clinicID}
	f.store.patients[f.patientID] = Patient{
		ID:       f.patientID,
		ClinicID: f.clinicID,
		Name:     "Maria Souza",
		Email:    "maria@example.com",
		Phones:   []string{"(11) 98765-4321"},
	}
	f.store.contracts[f.contractID] = Contract{ID: f.contractID, PatientID: f.patientID, ClinicID: f.clinicID, DoNotifications: true}
	f.store.installments[f.installmentID] = Installment{
		ID:         f.installmentID,
		ContractID: f.contractID,
		Number:     1,
		DueDate:    dueDate,
		Amount:     decimal.RequireFromString("150.5"),
	}
	for step := 0; step <= 5; step++ {
		for _, ch := range []notify.Channel{notify.ChannelSMS, notify.ChannelWhatsApp, notify.ChannelEmail} {
			f.store.messages = append(f.store.messages, Message{
				ID:        uuid.New(),
				Channel:   ch,
				Step:      step,
				Subject:   "Aviso de parcela",
				Content:   testTemplate,
				IsDefault: true,
			})
		}
	}

	registry := notify.NewRegistry()
	registry.Register(notify.ChannelSMS, f.sms)
	registry.Register(notify.ChannelWhatsApp, f.whatsapp)
	registry.Register(notify.ChannelEmail, f.email)

	f.engine = NewEngine(Dependencies{
		Schedules:        f.store,
		History:          f.store,
		Calls:            f.store,
		Messages:         f.store,
		Billing:          f.store,
		Policies:         f.store,
		Notifiers:        registry,
		Publisher:        f.pub,
		Metrics:          f.metrics,
		Calendar:         fixedCalendar(testNow),
		PhoneRegion:      "BR",
		BatchConcurrency: 4,
		Logger:           logging.NewWithOptions(logging.Options{Level: "debug", Output: f.logs}),
	})
	return f
}

func (f *fixture) groupKey(step int) GroupKey {
	return GroupKey{ClinicID: f.clinicID, PatientID: f.patientID, ContractID: uuidPtr(f.contractID), Step: step}
}
