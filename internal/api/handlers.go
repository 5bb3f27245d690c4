package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"commonroom/internal/models"
	"commonroom/internal/schedule"
	"commonroom/internal/service"
)

type bookingDTO struct {
	ID             string `json:"id"`
	RequesterPhone string `json:"requester_phone"`
	DisplayName    string `json:"display_name"`
	Apartment      string `json:"apartment"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Status         string `json:"status"`
	LinkedID       string `json:"linked_id,omitempty"`
}

func toDTO(b *models.Booking) bookingDTO {
	return bookingDTO{
		ID:             b.ID,
		RequesterPhone: b.RequesterPhone,
		DisplayName:    b.DisplayName,
		Apartment:      b.Apartment,
		Date:           b.Date.Format(models.DateFmt),
		Start:          b.Start.String(),
		End:            b.End.String(),
		Status:         string(b.Status),
		LinkedID:       b.LinkedID,
	}
}

func toDTOs(bookings []models.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bookings))
	for i := range bookings {
		out = append(out, toDTO(&bookings[i]))
	}
	return out
}

type slotBody struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (b slotBody) parse() (schedule.Slot, error) {
	date, err := time.ParseInLocation(models.DateFmt, b.Date, time.Local)
	if err != nil {
		return schedule.Slot{}, err
	}
	start, err := models.ParseClock(b.Start)
	if err != nil {
		return schedule.Slot{}, err
	}
	end, err := models.ParseClock(b.End)
	if err != nil {
		return schedule.Slot{}, err
	}
	return schedule.Slot{Date: date, Start: start, End: end}, nil
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request, c client) {
	var body struct {
		slotBody
		Phone     string `json:"phone"`
		Name      string `json:"name"`
		Apartment string `json:"apartment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slot, err := body.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date or time: "+err.Error())
		return
	}

	b, err := s.bookings.CreateBooking(r.Context(), service.CreateRequest{
		RequesterPhone: body.Phone,
		DisplayName:    body.Name,
		Apartment:      body.Apartment,
		Date:           slot.Date,
		Start:          slot.Start,
		End:            slot.End,
		Privileged:     c.Privileged,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(b))
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request, _ client) {
	q := r.URL.Query()
	switch {
	case q.Get("date") != "":
		date, err := time.ParseInLocation(models.DateFmt, q.Get("date"), time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		day, err := s.bookings.ListForDate(r.Context(), date)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDTOs(day))
	case q.Get("phone") != "":
		mine, err := s.bookings.ListForPhone(r.Context(), q.Get("phone"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDTOs(mine))
	default:
		writeError(w, http.StatusBadRequest, "date or phone query parameter is required")
	}
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request, c client) {
	var body struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.bookings.CancelBooking(r.Context(), r.PathValue("id"), body.Phone, c.Privileged); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCancelledByUser)})
}

func (s *Server) handleApproveBooking(w http.ResponseWriter, r *http.Request, c client) {
	if err := s.bookings.ApproveBooking(r.Context(), r.PathValue("id"), c.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusApproved)})
}

func (s *Server) handleRejectBooking(w http.ResponseWriter, r *http.Request, c client) {
	if err := s.bookings.RejectBooking(r.Context(), r.PathValue("id"), c.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusRejected)})
}

func (s *Server) handleEditBooking(w http.ResponseWriter, r *http.Request, _ client) {
	var body slotBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slot, err := body.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date or time: "+err.Error())
		return
	}
	if err := s.bookings.EditBookingDirect(r.Context(), r.PathValue("id"), slot.Date, slot.Start, slot.End); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleRequestEdit(w http.ResponseWriter, r *http.Request, c client) {
	var body struct {
		slotBody
		OriginalID string `json:"original_id"`
		Phone      string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slot, err := body.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date or time: "+err.Error())
		return
	}

	shadow, err := s.bookings.RequestEdit(r.Context(), service.EditRequest{
		OriginalID: body.OriginalID,
		ActorPhone: body.Phone,
		Privileged: c.Privileged,
		NewSlot:    slot,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(shadow))
}

func (s *Server) handleApproveEdit(w http.ResponseWriter, r *http.Request, c client) {
	if err := s.bookings.ApproveEdit(r.Context(), r.PathValue("id"), c.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusApproved)})
}

func (s *Server) handleRejectEdit(w http.ResponseWriter, r *http.Request, c client) {
	if err := s.bookings.RejectEdit(r.Context(), r.PathValue("id"), c.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusRejected)})
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request, _ client) {
	var body struct {
		Phone     string `json:"phone"`
		FullName  string `json:"full_name"`
		Apartment string `json:"apartment"`
		Role      string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.users.Register(r.Context(), models.User{
		Phone:     body.Phone,
		FullName:  body.FullName,
		Apartment: body.Apartment,
		Role:      body.Role,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": string(models.StatusPending)})
}

func (s *Server) handleApproveUser(w http.ResponseWriter, r *http.Request, _ client) {
	u, err := s.users.Approve(r.Context(), r.PathValue("phone"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handlePendingUsers(w http.ResponseWriter, r *http.Request, _ client) {
	pending, err := s.users.Pending(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if pending == nil {
		pending = []models.User{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, _ client) {
	q := r.URL.Query()
	from, err := time.ParseInLocation(models.DateFmt, q.Get("from"), time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := time.ParseInLocation(models.DateFmt, q.Get("to"), time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	snapshot, err := s.bookings.Snapshot(r.Context(), true)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	path, err := s.exporter(snapshot, from, to, s.exportDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrConflictAfterWrite):
		writeErrorJSON(w, http.StatusConflict, err.Error(), map[string]string{"phase": "reconcile"})
	case errors.Is(err, service.ErrSlotConflict),
		errors.Is(err, service.ErrPhoneExists),
		errors.Is(err, models.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidRange),
		errors.Is(err, service.ErrPastDate),
		errors.Is(err, service.ErrDateTooFar),
		errors.Is(err, service.ErrNotLinked),
		errors.Is(err, service.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("unclassified service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorJSON(w http.ResponseWriter, status int, message string, extra map[string]string) {
	body := map[string]string{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}
