package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/collections"
	"github.com/wolfman30/dental-collections/internal/http/middleware"
	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

type batchRunner interface {
	RunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (collections.BatchResult, error)
}

// BatchEnqueuer hands a batch run to the background worker.
type BatchEnqueuer interface {
	EnqueueRunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (bool, error)
}

type scheduleService interface {
	ScheduleInitial(ctx context.Context, patientID, contractID uuid.UUID) ([]collections.ContactSchedule, error)
	CancelPending(ctx context.Context, patientID uuid.UUID) (int64, error)
	Summary(ctx context.Context, clinicID uuid.UUID) (*collections.ScheduleSummary, error)
}

type manualSender interface {
	SendManual(ctx context.Context, req collections.ManualRequest) (*collections.ManualResult, error)
}

type pendingCalls interface {
	ResolvePendingCall(ctx context.Context, callID uuid.UUID, success bool, notes string) (*collections.PendingCall, error)
	ListPendingCalls(ctx context.Context, clinicID uuid.UUID, before time.Time) ([]collections.PendingCall, error)
}

// AdminCollectionsHandler exposes the collection engine to operators and to
// the billing sync.
type AdminCollectionsHandler struct {
	batches   batchRunner
	queue     BatchEnqueuer
	schedules scheduleService
	manual    manualSender
	calls     pendingCalls
	batchSize int
	validate  *validator.Validate
	logger    *logging.Logger
}

// NewAdminCollectionsHandler builds the handler. A nil queue runs batches inline.
func NewAdminCollectionsHandler(engine *collections.Engine, queue BatchEnqueuer, batchSize int, logger *logging.Logger) *AdminCollectionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminCollectionsHandler{
		batches:   engine.Processor,
		queue:     queue,
		schedules: engine.Scheduling,
		manual:    engine.Manual,
		calls:     engine.Calls,
		batchSize: batchSize,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

type scheduleResponse struct {
	ID            uuid.UUID      `json:"id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	ContractID    *uuid.UUID     `json:"contract_id,omitempty"`
	InstallmentID *uuid.UUID     `json:"installment_id,omitempty"`
	Step          int            `json:"step"`
	Channel       notify.Channel `json:"channel"`
	ScheduledDate time.Time      `json:"scheduled_date"`
	Status        string         `json:"status"`
	AdvanceFlow   bool           `json:"advance_flow"`
}

func toScheduleResponses(rows []collections.ContactSchedule) []scheduleResponse {
	out := make([]scheduleResponse, 0, len(rows))
	for _, s := range rows {
		out = append(out, scheduleResponse{
			ID:            s.ID,
			PatientID:     s.PatientID,
			ContractID:    s.ContractID,
			InstallmentID: s.InstallmentID,
			Step:          s.CurrentStep,
			Channel:       s.Channel,
			ScheduledDate: s.ScheduledDate,
			Status:        string(s.Status),
			AdvanceFlow:   s.AdvanceFlow,
		})
	}
	return out
}

type pendingCallResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ContractID    *uuid.UUID `json:"contract_id,omitempty"`
	ClinicID      uuid.UUID  `json:"clinic_id"`
	Step          int        `json:"step"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	ResultNotes   string     `json:"result_notes,omitempty"`
}

func toPendingCallResponse(c collections.PendingCall) pendingCallResponse {
	return pendingCallResponse{
		ID:            c.ID,
		PatientID:     c.PatientID,
		ContractID:    c.ContractID,
		ClinicID:      c.ClinicID,
		Step:          c.CurrentStep,
		ScheduledAt:   c.ScheduledAt,
		Status:        string(c.Status),
		Attempts:      c.Attempts,
		LastAttemptAt: c.LastAttemptAt,
		ResultNotes:   c.ResultNotes,
	}
}

type runBatchRequest struct {
	BatchSize int  `json:"batch_size" validate:"gte=0,lte=1000"`
	Sync      bool `json:"sync"`
}

// RunBatch triggers a batch for one clinic.
// POST /admin/clinics/{clinicID}/batches
func (h *AdminCollectionsHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuidParam(r, "clinicID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req runBatchRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, h.validate, &req); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	size := req.BatchSize
	if size == 0 {
		size = h.batchSize
	}

	if h.queue != nil && !req.Sync {
		queued, err := h.queue.EnqueueRunBatch(r.Context(), clinicID, size)
		if err != nil {
			h.logger.Error("failed to enqueue batch", "error", err, "clinic_id", clinicID)
			jsonError(w, "failed to enqueue batch", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"clinic_id": clinicID, "queued": queued})
		return
	}

	res, err := h.batches.RunBatch(r.Context(), clinicID, size)
	if err != nil {
		h.logger.Error("batch finished with errors", "error", err, "clinic_id", clinicID)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"clinic_id":         res.ClinicID,
		"groups":            res.Groups,
		"advanced":          res.Advanced,
		"held":              res.Held,
		"failed":            res.Failed,
		"claimed_elsewhere": res.ClaimedElsewhere,
		"sent":              res.Sent,
		"stale":             res.Stale,
	})
}

type scheduleRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
}

// ScheduleContract creates the initial schedule for a contract.
// POST /admin/contracts/{contractID}/schedule
func (h *AdminCollectionsHandler) ScheduleContract(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuidParam(r, "contractID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req scheduleRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := h.schedules.ScheduleInitial(r.Context(), uuid.MustParse(req.PatientID), contractID)
	if err != nil {
		h.logger.Warn("initial schedule failed", "error", err, "contract_id", contractID)
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	status := http.StatusCreated
	if len(rows) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"schedules": toScheduleResponses(rows)})
}

// CancelPatient cancels every pending automated schedule of a patient.
// POST /admin/patients/{patientID}/cancel
func (h *AdminCollectionsHandler) CancelPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuidParam(r, "patientID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := h.schedules.CancelPending(r.Context(), patientID)
	if err != nil {
		h.logger.Error("failed to cancel schedules", "error", err, "patient_id", patientID)
		jsonError(w, "failed to cancel schedules", statusFor(err))
		return
	}
	h.logger.Info("pending schedules cancelled", "patient_id", patientID, "count", n, "operator", middleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"patient_id": patientID, "cancelled": n})
}

type manualSendRequest struct {
	PatientID  string `json:"patient_id" validate:"required,uuid"`
	ContractID string `json:"contract_id" validate:"required,uuid"`
	Channel    string `json:"channel" validate:"required,oneof=sms whatsapp email phonecall letter"`
	MessageID  string `json:"message_id" validate:"omitempty,uuid"`
}

// ManualSend sends one notification on demand.
// POST /admin/manual-sends
func (h *AdminCollectionsHandler) ManualSend(w http.ResponseWriter, r *http.Request) {
	var req manualSendRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := collections.ManualRequest{
		PatientID:  uuid.MustParse(req.PatientID),
		ContractID: uuid.MustParse(req.ContractID),
		Channel:    notify.Channel(req.Channel),
	}
	if req.MessageID != "" {
		id := uuid.MustParse(req.MessageID)
		in.MessageID = &id
	}

	res, err := h.manual.SendManual(r.Context(), in)
	if err != nil && res == nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.logger.Info("manual send", "patient_id", in.PatientID, "channel", in.Channel, "success", res.Success, "operator", middleware.AdminSubject(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"result":     res,
			"error":      err.Error(),
			"error_kind": notify.Kind(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

// ListPendingCalls returns pending calls due at or before ?before (default now).
// GET /admin/pending-calls?clinic_id=...&before=...
func (h *AdminCollectionsHandler) ListPendingCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clinicID, err := uuid.Parse(q.Get("clinic_id"))
	if err != nil {
		jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	var before time.Time
	if raw := q.Get("before"); raw != "" {
		before, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "before must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	calls, err := h.calls.ListPendingCalls(r.Context(), clinicID, before)
	if err != nil {
		h.logger.Error("failed to list pending calls", "error", err, "clinic_id", clinicID)
		jsonError(w, "failed to list pending calls", http.StatusInternalServerError)
		return
	}
	out := make([]pendingCallResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, toPendingCallResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_calls": out})
}

type resolveCallRequest struct {
	Success *bool  `json:"success" validate:"required"`
	Notes   string `json:"notes" validate:"max=2000"`
}

// ResolvePendingCall records the outcome of a human phone call.
// POST /admin/pending-calls/{callID}/resolve
func (h *AdminCollectionsHandler) ResolvePendingCall(w http.ResponseWriter, r *http.Request) {
	callID, err := uuidParam(r, "callID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req resolveCallRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	call, err := h.calls.ResolvePendingCall(r.Context(), callID, *req.Success, req.Notes)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.logger.Info("operator resolved pending call", "call_id", callID, "success", *req.Success, "operator", middleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, toPendingCallResponse(*call))
}

// Summary returns schedule counts by status and channel.
// GET /admin/clinics/{clinicID}/summary
func (h *AdminCollectionsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuidParam(r, "clinicID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum, err := h.schedules.Summary(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to build summary", "error", err, "clinic_id", clinicID)
		jsonError(w, "failed to build summary", http.StatusInternalServerError)
		return
	}
	byStatus := make(map[string]int, len(sum.ByStatus))
	for s, n := range sum.ByStatus {
		byStatus[string(s)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clinic_id":  sum.ClinicID,
		"by_status":  byStatus,
		"by_channel": sum.ByChannel,
	})
}
