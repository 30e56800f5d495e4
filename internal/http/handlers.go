package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/mkravets/studyroom-reservations/internal/adapters/mongo"
	redisadapter "github.com/mkravets/studyroom-reservations/internal/adapters/redis"
	"github.com/mkravets/studyroom-reservations/internal/clock"
	"github.com/mkravets/studyroom-reservations/internal/config"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/engine"
	"github.com/mkravets/studyroom-reservations/internal/idempotency"
)

const createRetries = 2

type Handlers struct {
	cfg   *config.Config
	svc   *engine.Service
	redis *redisadapter.Cache
	idemp *idempotency.Idempotency
	audit *mongoadapter.AuditLogger
	clock clock.Clock
}

func NewHandlers(cfg *config.Config, svc *engine.Service, redis *redisadapter.Cache, idemp *idempotency.Idempotency, audit *mongoadapter.AuditLogger, clk clock.Clock) *Handlers {
	return &Handlers{
		cfg:   cfg,
		svc:   svc,
		redis: redis,
		idemp: idemp,
		audit: audit,
		clock: clk,
	}
}

type reservationResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	RoomID    uuid.UUID `json:"room_id"`
	SeatID    uuid.UUID `json:"seat_id"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Status    string    `json:"status"`
	Fee       *float64  `json:"fee,omitempty"`
	CreatedAt string    `json:"created_at"`
}

func toReservationResponse(res domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:        res.ID,
		UserID:    res.UserID,
		RoomID:    res.RoomID,
		SeatID:    res.SeatID,
		Start:     res.Interval.Start.Format(time.RFC3339),
		End:       res.Interval.End.Format(time.RFC3339),
		Status:    string(res.Status),
		Fee:       res.Fee,
		CreatedAt: res.CreatedAt.Format(time.RFC3339),
	}
}

type sessionResponse struct {
	ID            uuid.UUID `json:"id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	State         string    `json:"state"`
	SignInTime    string    `json:"sign_in_time,omitempty"`
	SignOutTime   string    `json:"sign_out_time,omitempty"`
	LeaveTotal    string    `json:"leave_total"`
}

func toSessionResponse(sess domain.CheckinSession) sessionResponse {
	out := sessionResponse{
		ID:            sess.ID,
		ReservationID: sess.ReservationID,
		State:         string(sess.State),
		LeaveTotal:    sess.LeaveTotal.String(),
	}
	if !sess.SignInTime.IsZero() {
		out.SignInTime = sess.SignInTime.Format(time.RFC3339)
	}
	if !sess.SignOutTime.IsZero() {
		out.SignOutTime = sess.SignOutTime.Format(time.RFC3339)
	}
	return out
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if existing, err := h.idemp.Get(r.Context(), key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id"`
		RoomID uuid.UUID `json:"room_id"`
		SeatID uuid.UUID `json:"seat_id"`
		Start  time.Time `json:"start"`
		End    time.Time `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor := actorFrom(r)
	if !actor.Admin() && actor.UserID != req.UserID {
		writeError(w, domain.ErrPermissionDenied)
		return
	}

	locked, err := h.redis.AcquireSeatLock(r.Context(), req.SeatID.String(), actor.UserID.String(), 5*time.Second)
	if err == nil && locked {
		defer h.redis.ReleaseSeatLock(r.Context(), req.SeatID.String())
	}

	var res domain.Reservation
	for attempt := 0; ; attempt++ {
		res, err = h.svc.CreateReservation(r.Context(), req.UserID, req.RoomID, req.SeatID, req.Start, req.End)
		if err == nil || !domain.IsConflict(err) || attempt >= createRetries {
			break
		}
		// bounded retry after a fresh availability check, per the booking
		// race contract
		free, checkErr := h.svc.CheckAvailability(r.Context(), req.RoomID, req.SeatID, req.Start, req.End)
		if checkErr != nil || !free {
			break
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.audit.LogReservation(r.Context(), res, "reservation.created")

	data, _ := json.Marshal(toReservationResponse(res))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CancelReservation(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogReservation(r.Context(), res, "reservation.cancelled")
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetReservation(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	userID := actor.UserID
	if q := r.URL.Query().Get("user_id"); q != "" {
		parsed, err := uuid.Parse(q)
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		userID = parsed
	}
	list, err := h.svc.ListUserReservations(r.Context(), userID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]reservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, toReservationResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) UpcomingReservations(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	userID := actor.UserID
	if q := r.URL.Query().Get("user_id"); q != "" {
		parsed, err := uuid.Parse(q)
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		userID = parsed
	}
	list, err := h.svc.UpcomingReservations(r.Context(), userID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]reservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, toReservationResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.SignIn(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.SignOut(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Credit != nil {
		h.audit.LogCreditAdjustment(r.Context(), *result.Credit)
	}

	resp := map[string]interface{}{
		"session": toSessionResponse(result.Session),
		"fee":     result.Fee,
	}
	if result.Credit != nil {
		resp["credit_delta"] = result.Credit.Delta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Leave(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handlers) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Return(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.CurrentSession(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// ExpireNoShow is the entry point for the external scheduler tick; repeat
// calls are harmless.
func (h *Handlers) ExpireNoShow(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	adj, err := h.svc.ExpireIfNoShow(r.Context(), id, h.clock.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"expired": adj != nil}
	if adj != nil {
		h.audit.LogCreditAdjustment(r.Context(), *adj)
		resp["credit_delta"] = adj.Delta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ReservationFee(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	fee, err := h.svc.ReservationFee(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fee": fee})
}

func (h *Handlers) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID, err := uuid.Parse(q.Get("room_id"))
	if err != nil {
		http.Error(w, "invalid room_id", http.StatusBadRequest)
		return
	}
	seatID, err := uuid.Parse(q.Get("seat_id"))
	if err != nil {
		http.Error(w, "invalid seat_id", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		http.Error(w, "invalid end", http.StatusBadRequest)
		return
	}

	available, err := h.svc.CheckAvailability(r.Context(), roomID, seatID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidInterval), errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrExpiredGraceWindow):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case domain.IsConflict(err),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSeatUnavailable),
		errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
