package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/checkin"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/payment"
	"github.com/campustix/campustix/internal/registration"
)

type TierLister interface {
	ListTiers(ctx context.Context, eventID uuid.UUID) ([]domain.TicketTier, error)
}

type Handlers struct {
	registrations *registration.Service
	reconciler    *payment.Reconciler
	validator     *checkin.Validator
	tiers         TierLister
	logger        observability.Logger
}

func NewHandlers(registrations *registration.Service, reconciler *payment.Reconciler, validator *checkin.Validator, tiers TierLister, logger observability.Logger) *Handlers {
	return &Handlers{
		registrations: registrations,
		reconciler:    reconciler,
		validator:     validator,
		tiers:         tiers,
		logger:        logger,
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses. Credential
// and signature failures are deliberately opaque.
func writeError(w http.ResponseWriter, err error) {
	var status int
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCredential), errors.Is(err, domain.ErrInvalidSignature):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrDuplicateRegistration),
		errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrAlreadyCheckedIn),
		errors.Is(err, domain.ErrSerializationFailure),
		errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEventNotPublished),
		errors.Is(err, domain.ErrRegistrationWindowClosed),
		errors.Is(err, domain.ErrTierInactive),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrNotYetConfirmed),
		errors.Is(err, domain.ErrTicketCancelledOrExpired),
		errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func urlUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

type registrationResponse struct {
	ID            uuid.UUID  `json:"id"`
	Number        string     `json:"number"`
	Status        string     `json:"status"`
	EventID       uuid.UUID  `json:"event_id"`
	TierName      string     `json:"tier_name"`
	Quantity      int        `json:"quantity"`
	Amount        int64      `json:"amount"`
	AdminFee      int64      `json:"admin_fee"`
	TotalAmount   int64      `json:"total_amount"`
	PaymentStatus string     `json:"payment_status"`
	ExpiresAt     time.Time  `json:"payment_expires_at"`
	TicketNumber  string     `json:"ticket_number,omitempty"`
	TicketStatus  string     `json:"ticket_status"`
	Credential    string     `json:"credential,omitempty"`
	QRCodeURL     string     `json:"qr_code_url,omitempty"`
	PDFURL        string     `json:"pdf_url,omitempty"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toRegistrationResponse(reg domain.Registration) registrationResponse {
	resp := registrationResponse{
		ID:            reg.ID,
		Number:        reg.Number,
		Status:        string(reg.Status),
		EventID:       reg.EventID,
		TierName:      reg.Tier.Name,
		Quantity:      reg.Quantity,
		Amount:        reg.Payment.Amount,
		AdminFee:      reg.Payment.AdminFee,
		TotalAmount:   reg.Payment.TotalAmount,
		PaymentStatus: string(reg.Payment.Status),
		ExpiresAt:     reg.Payment.ExpiresAt,
		TicketNumber:  reg.Ticket.TicketNumber,
		TicketStatus:  string(reg.Ticket.Status),
		Credential:    reg.Ticket.Credential,
		QRCodeURL:     reg.Ticket.QRCodeURL,
		PDFURL:        reg.Ticket.PDFURL,
		CreatedAt:     reg.CreatedAt,
	}
	if reg.Ticket.CheckIn != nil {
		resp.CheckedInAt = &reg.Ticket.CheckIn.CheckedAt
	}
	return resp
}

func (h *Handlers) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.UserID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		EventID     uuid.UUID `json:"event_id"`
		TierID      uuid.UUID `json:"tier_id"`
		Quantity    int       `json:"quantity"`
		Method      string    `json:"payment_method"`
		Participant struct {
			Name        string `json:"name"`
			Email       string `json:"email"`
			Phone       string `json:"phone"`
			Institution string `json:"institution"`
			StudentID   string `json:"student_id"`
		} `json:"participant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "malformed request body"))
		return
	}

	result, err := h.registrations.Create(r.Context(), registration.CreateRequest{
		BuyerID:  id.UserID,
		EventID:  req.EventID,
		TierID:   req.TierID,
		Quantity: req.Quantity,
		Method:   req.Method,
		Participant: domain.Participant{
			Name:        req.Participant.Name,
			Email:       req.Participant.Email,
			Phone:       req.Participant.Phone,
			Institution: req.Participant.Institution,
			StudentID:   req.Participant.StudentID,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"registration": toRegistrationResponse(result.Registration),
		"payment": map[string]string{
			"redirect_url": result.RedirectURL,
			"token":        result.Token,
		},
	})
}

func (h *Handlers) GetRegistration(w http.ResponseWriter, r *http.Request) {
	regID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.registrations.Get(r.Context(), regID)
	if err != nil {
		writeError(w, err)
		return
	}
	id := identityFrom(r.Context())
	if id.UserID != reg.BuyerID && id.UserID != reg.OrganizerID && !id.IsStaff() {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handlers) GetRegistrationByNumber(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registrations.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	id := identityFrom(r.Context())
	if id.UserID != reg.BuyerID && id.UserID != reg.OrganizerID && !id.IsStaff() {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handlers) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.UserID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	regID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	reg, err := h.registrations.Cancel(r.Context(), regID, id.UserID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handlers) ListMyRegistrations(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.UserID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	regs, err := h.registrations.ListByBuyer(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistrationResponse(reg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": out})
}

func (h *Handlers) ListEventRegistrations(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	eventID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	regs, err := h.registrations.ListByEvent(r.Context(), eventID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistrationResponse(reg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": out})
}

func (h *Handlers) ExportEventRegistrations(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	eventID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="registrations-`+eventID.String()+`.csv"`)
	if err := h.registrations.ExportCSV(r.Context(), w, eventID); err != nil {
		h.logger.WithField("event_id", eventID).Error("csv export failed", err)
	}
}

func (h *Handlers) EventStats(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.registrations.Stats(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) ListEventTiers(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	tiers, err := h.tiers.ListTiers(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	type tierResponse struct {
		ID        uuid.UUID `json:"id"`
		Name      string    `json:"name"`
		UnitPrice int64     `json:"unit_price"`
		Available int       `json:"available"`
		Active    bool      `json:"active"`
	}
	out := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierResponse{
			ID:        t.ID,
			Name:      t.Name,
			UnitPrice: t.UnitPrice,
			Available: t.Available(),
			Active:    t.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}

func (h *Handlers) CancelEventRegistrations(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.UserID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	eventID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	cancelled, failed, err := h.registrations.CancelEventRegistrations(r.Context(), eventID, id.UserID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled, "failed": failed})
}

// PaymentNotification acknowledges the provider immediately and reconciles
// in the background. The provider retries on non-200, so reconciliation
// failures surface through its retry schedule rather than blocking the ack.
func (h *Handlers) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := h.reconciler.HandleNotification(ctx, body); err != nil {
			h.logger.Error("payment notification reconciliation failed", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	regID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.reconciler.ProcessRefund(r.Context(), regID, id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handlers) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "malformed request body"))
		return
	}

	res, err := h.validator.Validate(r.Context(), req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":        res.Valid,
		"reason":       res.Reason,
		"registration": toRegistrationResponse(res.Registration),
	})
}

func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		Credential string `json:"credential"`
		Location   string `json:"location"`
		DeviceInfo string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "malformed request body"))
		return
	}

	reg, err := h.validator.CheckIn(r.Context(), checkin.CheckInRequest{
		Credential: req.Credential,
		StaffID:    id.UserID,
		Location:   req.Location,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handlers) BulkCheckIn(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		Location   string `json:"location"`
		DeviceInfo string `json:"device_info"`
		Scans      []struct {
			Credential string `json:"credential"`
		} `json:"scans"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "malformed request body"))
		return
	}
	if len(req.Scans) == 0 || len(req.Scans) > 100 {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "scans must contain between 1 and 100 items"))
		return
	}

	reqs := make([]checkin.CheckInRequest, len(req.Scans))
	for i, scan := range req.Scans {
		reqs[i] = checkin.CheckInRequest{
			Credential: scan.Credential,
			StaffID:    id.UserID,
			Location:   req.Location,
			DeviceInfo: req.DeviceInfo,
		}
	}

	results := h.validator.BulkCheckIn(r.Context(), reqs)
	type itemResponse struct {
		Index        int                   `json:"index"`
		OK           bool                  `json:"ok"`
		Error        string                `json:"error,omitempty"`
		Registration *registrationResponse `json:"registration,omitempty"`
	}
	out := make([]itemResponse, len(results))
	for i, res := range results {
		item := itemResponse{Index: res.Index, OK: res.Err == nil}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			resp := toRegistrationResponse(res.Registration)
			item.Registration = &resp
		}
		out[i] = item
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (h *Handlers) UndoCheckIn(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsStaff() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	regID, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	reg, err := h.validator.UndoCheckIn(r.Context(), regID, id.UserID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
