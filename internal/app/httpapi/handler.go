// Package httpapi exposes the donation engine over REST. The shell stays
// thin: it decodes requests, attaches audit context and maps engine errors
// to status codes. All enforcement happens in the services.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/pledgeworks/celebrate/internal/app"
	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/metrics"
	"github.com/pledgeworks/celebrate/internal/app/services/donations"
	"github.com/pledgeworks/celebrate/internal/app/services/limits"
	"github.com/pledgeworks/celebrate/internal/app/services/pledges"
	"github.com/pledgeworks/celebrate/internal/app/storage"
)

var timeNow = time.Now

// Options configures the HTTP shell.
type Options struct {
	JWTSecret      string
	AuditLogPath   string
	RateLimitRPS   float64
	RateLimitBurst int
}

type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns the REST API router.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	h := &handler{
		app:   application,
		audit: newAuditLog(0, sink),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(metrics.HTTPMiddleware)
	if opts.RateLimitRPS > 0 {
		api.Use(rateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst))
	}
	api.Use(authMiddleware([]byte(opts.JWTSecret)))
	api.Use(auditMiddleware(h.audit))

	api.HandleFunc("/donors", h.createDonor).Methods(http.MethodPost)
	api.HandleFunc("/donors/{id}", h.getDonor).Methods(http.MethodGet)
	api.HandleFunc("/donors/{id}/verify", h.verifyDonor).Methods(http.MethodPost)
	api.HandleFunc("/donors/{id}/limits", h.donorLimits).Methods(http.MethodGet)
	api.HandleFunc("/donors/{id}/pac", h.donorPac).Methods(http.MethodGet)
	api.HandleFunc("/donors/{id}/donations/validate", h.validateDonation).Methods(http.MethodPost)
	api.HandleFunc("/donors/{id}/donations", h.submitDonation).Methods(http.MethodPost)

	api.HandleFunc("/pledges/{id}", h.getPledge).Methods(http.MethodGet)
	api.HandleFunc("/pledges/{id}/history", h.pledgeHistory).Methods(http.MethodGet)
	api.HandleFunc("/pledges/{id}/durations", h.pledgeDurations).Methods(http.MethodGet)
	api.HandleFunc("/pledges/{id}/pause", h.pausePledge).Methods(http.MethodPost)
	api.HandleFunc("/pledges/{id}/resume", h.resumePledge).Methods(http.MethodPost)
	api.HandleFunc("/pledges/{id}/resolve", h.resolvePledge).Methods(http.MethodPost)

	api.HandleFunc("/session/end", h.endSession).Methods(http.MethodPost)
	api.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	return r, nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "celebrate",
		"timestamp": timeNow().UTC().Format(time.RFC3339),
	})
}

// Donor handlers -------------------------------------------------------------

func (h *handler) createDonor(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		State string `json:"state"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Email == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("email is required"))
		return
	}

	created, err := h.app.Donors.CreateDonor(r.Context(), donor.Donor{
		Email:          payload.Email,
		Name:           payload.Name,
		State:          payload.State,
		ComplianceTier: compliance.TierUnverified,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getDonor(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Donors.GetDonor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// verifyDonor promotes a donor to the verified tier after identity checks
// complete upstream.
func (h *handler) verifyDonor(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Donors.GetDonor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	d.ComplianceTier = compliance.TierVerified
	updated, err := h.app.Donors.UpdateDonor(r.Context(), d)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) donorLimits(w http.ResponseWriter, r *http.Request) {
	donorID := mux.Vars(r)["id"]
	q := r.URL.Query()
	summary, _, err := h.app.Limits.SummaryFor(r.Context(), donorID,
		q.Get("recipient"), q.Get("state"), compliance.Tier(q.Get("form_tier")), timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) donorPac(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Tips.SummaryFor(r.Context(), mux.Vars(r)["id"], timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Donation handlers ----------------------------------------------------------

type donationPayload struct {
	RecipientID    string          `json:"recipient_id"`
	RecipientState string          `json:"recipient_state"`
	BillID         string          `json:"bill_id"`
	Amount         int64           `json:"amount"`
	Tip            int64           `json:"tip"`
	Fee            int64           `json:"fee"`
	FormTier       compliance.Tier `json:"form_tier"`
	ActorName      string          `json:"actor_name"`
}

func (h *handler) validateDonation(w http.ResponseWriter, r *http.Request) {
	var payload donationPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Donations.Validate(r.Context(), mux.Vars(r)["id"],
		payload.RecipientID, payload.RecipientState, payload.FormTier, payload.Amount, timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) submitDonation(w http.ResponseWriter, r *http.Request) {
	var payload donationPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Donations.Submit(r.Context(), donations.SubmitRequest{
		DonorID:        mux.Vars(r)["id"],
		RecipientID:    payload.RecipientID,
		RecipientState: payload.RecipientState,
		BillID:         payload.BillID,
		DonationAmount: payload.Amount,
		TipAmount:      payload.Tip,
		Fee:            payload.Fee,
		FormTier:       payload.FormTier,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        actorFrom(r.Context()),
		ActorName:      payload.ActorName,
		Audit:          auditTrailFrom(r),
	}, timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Pledge handlers ------------------------------------------------------------

func (h *handler) getPledge(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Pledges.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) pledgeHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = n
	}

	entries, err := h.app.Pledges.History(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) pledgeDurations(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Pledges.Durations(r.Context(), mux.Vars(r)["id"], timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type transitionPayload struct {
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

func (h *handler) transitionInput(r *http.Request) (pledges.TransitionInput, error) {
	var payload transitionPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &payload); err != nil {
			return pledges.TransitionInput{}, err
		}
	}
	return pledges.TransitionInput{
		Reason:        payload.Reason,
		TriggerSource: pledge.TriggerUser,
		ActorID:       actorFrom(r.Context()),
		Metadata:      payload.Metadata,
		Audit:         auditTrailFrom(r),
	}, nil
}

func (h *handler) pausePledge(w http.ResponseWriter, r *http.Request) {
	in, err := h.transitionInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Pledges.Pause(r.Context(), mux.Vars(r)["id"], in, timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.TransitionApplied(string(pledge.StatusActive), string(pledge.StatusPaused))
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) resumePledge(w http.ResponseWriter, r *http.Request) {
	in, err := h.transitionInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Pledges.Activate(r.Context(), mux.Vars(r)["id"], in, timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.TransitionApplied(string(pledge.StatusPaused), string(pledge.StatusActive))
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) resolvePledge(w http.ResponseWriter, r *http.Request) {
	in, err := h.transitionInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Pledges.Resolve(r.Context(), mux.Vars(r)["id"], in, timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.TransitionApplied(string(pledge.StatusActive), string(pledge.StatusResolved))
	writeJSON(w, http.StatusOK, p)
}

// Session handlers -----------------------------------------------------------

// endSession is the internal trigger for the bulk defunct transition, used
// when the upstream session watcher delivers a push instead of being
// polled.
func (h *handler) endSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Session          string    `json:"session"`
		SessionEndDate   time.Time `json:"session_end_date"`
		NextElectionDate time.Time `json:"next_election_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Session == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session is required"))
		return
	}

	meta := map[string]string{
		"session":          payload.Session,
		"session_end_date": payload.SessionEndDate.Format(time.RFC3339),
	}
	if !payload.NextElectionDate.IsZero() {
		meta["next_election_date"] = payload.NextElectionDate.Format(time.RFC3339)
	}

	count, err := h.app.Pledges.MakeDefunctBulk(r.Context(), meta, timeNow())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"defuncted": count})
}

func (h *handler) listAudit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.audit.list())
}

// Helpers --------------------------------------------------------------------

func auditTrailFrom(r *http.Request) pledge.AuditTrail {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return pledge.AuditTrail{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		SessionID: r.Header.Get("X-Session-ID"),
	}
}

// writeEngineError maps engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var violation *limits.Violation
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     violation.Message,
			"violation": violation,
		})
		return
	}

	var invalid *pledge.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, storage.ErrKeyInFlight):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
