package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bnema/hiddenprofile/internal/domain"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

// writeServiceError maps an error class to its HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case domain.ErrValidation:
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
	case domain.ErrConflict:
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case domain.ErrConnectivity:
		s.logger.Warn("store unavailable", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "store unavailable, retry later")
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("decode request body: %v", err))
		return false
	}

	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := s.service.Catalog()
	if variant := r.URL.Query().Get("variant"); variant != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": catalog.Candidates,
			"items":      catalog.ItemsFor(domain.Variant(variant)),
			"ratingMin":  catalog.RatingMin,
			"ratingMax":  catalog.RatingMax,
		})
		return
	}

	writeJSON(w, http.StatusOK, catalog)
}

type createSessionRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.service.CreateSession(r.Context(), domain.SessionMeta{Name: req.Name, CreatedBy: req.CreatedBy})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.ActiveSession(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.service.Board(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.ExportAnalysis(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.StartTask(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

type joinRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeBody(w, r, &req) {
		return
	}

	participant, err := s.service.JoinSession(r.Context(), domain.SessionID(r.PathValue("id")), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, participant)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.service.ListParticipants(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, participants)
}

func (s *Server) handleParticipantView(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ParticipantView(r.Context(), domain.SessionID(r.PathValue("id")), domain.ParticipantID(r.PathValue("pid")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.service.ListDecisions(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.service.GetGroup(r.Context(), domain.GroupID(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, group)
}

type choiceRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Choice        domain.CandidateID   `json:"choice"`
}

func (s *Server) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := s.service.MarkReady(r.Context(), domain.GroupID(r.PathValue("id")), req.ParticipantID, req.Choice)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := s.service.SubmitGroupDecision(r.Context(), domain.GroupID(r.PathValue("id")), req.ParticipantID, req.Choice)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, group)
}

type approvalRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Approved      *bool                `json:"approved"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Approved == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "approved is required")
		return
	}

	group, err := s.service.ApproveGroupDecision(r.Context(), domain.GroupID(r.PathValue("id")), req.ParticipantID, *req.Approved)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, group)
}

type ratingsRequest struct {
	ParticipantID domain.ParticipantID  `json:"participantId"`
	Ratings       map[domain.ItemID]int `json:"ratings"`
}

func (s *Server) handleSubmitRatings(w http.ResponseWriter, r *http.Request) {
	var req ratingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := s.service.SubmitGroupRatings(r.Context(), domain.GroupID(r.PathValue("id")), req.ParticipantID, req.Ratings)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := s.service.ResetAllData(r.Context(), confirmed); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
