package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"daycal/internal/calendar"
	"daycal/internal/ics"
	appLog "daycal/internal/log"
	"daycal/internal/model"
	"daycal/internal/projection"
)

// claimRequest is the body of PUT /api/claims/me. The owner always comes
// from the token.
type claimRequest struct {
	Date        string `json:"date"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

// rosterResponse is the JSON response shape for /api/roster.
type rosterResponse struct {
	Revision uint64        `json:"revision"`
	Roster   []model.Claim `json:"roster"`
}

// handleMe echoes the identity carried by the caller's token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, rosterResponse{
		Revision: snap.Revision,
		Roster:   projection.RosterSortedByDate(snap.Claims),
	})
}

// handleCalendar returns the caller's month view.
//
// GET /api/calendar?year=2025&month=3
//   - year:  기본값은 현재 연도
//   - month: 1-12, 기본값은 현재 월
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	m := calendar.MonthOf(s.now())
	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year < 1 || year > 9999 {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		m.Year = year
	}
	if v := q.Get("month"); v != "" {
		month, err := strconv.Atoi(v)
		if err != nil || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "invalid month")
			return
		}
		m.Month = time.Month(month)
	}

	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, projection.Build(snap, id.OwnerID, m))
}

func (s *Server) handleGetOwn(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	c, ok, err := s.store.Get(r.Context(), id.OwnerID)
	if err != nil {
		writeStoreError(w, "get", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no claim")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePutOwn(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req claimRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, err := calendar.ParseDate(req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = strings.TrimSpace(id.DisplayName)
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "display name required")
		return
	}
	avatar := strings.TrimSpace(req.AvatarRef)
	if avatar == "" {
		avatar = id.AvatarRef
	}

	stored, err := s.store.Put(r.Context(), model.Claim{
		OwnerID:     id.OwnerID,
		DisplayName: name,
		AvatarRef:   avatar,
		Date:        req.Date,
	})
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeStoreError(w, "write", err)
		return
	}

	appLog.Info("claim set", "owner", id.OwnerID, "date", stored.Date)
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeleteOwn(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	if err := s.store.Delete(r.Context(), id.OwnerID); err != nil {
		writeStoreError(w, "delete", err)
		return
	}
	appLog.Info("claim cleared", "owner", id.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, "list", err)
		return
	}

	body, err := ics.Export(snap.Claims, ics.FeedOptions{Name: s.cfg.FeedName})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
