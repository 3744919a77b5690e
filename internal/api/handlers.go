// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"hub_state": s.hub.State().String(),
		"pending":   s.hub.Pending(),
		"entities":  s.entities.Len(),
	})
}

type statsResponse struct {
	Uptime       float64 `json:"uptime_seconds"`
	Requests     uint64  `json:"requests"`
	Responses    uint64  `json:"responses"`
	ParityErrors uint64  `json:"parity_errors"`
	DecodeErrors uint64  `json:"decode_errors"`
	NegativeAcks uint64  `json:"negative_acks"`
	IDMismatches uint64  `json:"id_mismatches"`
	Timeouts     uint64  `json:"timeouts"`
	MaxTimeouts  uint64  `json:"max_timeouts"`
	Deduplicated uint64  `json:"deduplicated"`
	RequestRate  float64 `json:"request_rate"`
	ErrorRate    float64 `json:"error_rate"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.hub.Stats()
	st.CalculateRates()
	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:       time.Since(st.StartTime).Seconds(),
		Requests:     st.Requests,
		Responses:    st.Responses,
		ParityErrors: st.ParityErrors,
		DecodeErrors: st.DecodeErrors,
		NegativeAcks: st.NegativeAcks,
		IDMismatches: st.IDMismatches,
		Timeouts:     st.Timeouts,
		MaxTimeouts:  st.MaxTimeouts,
		Deduplicated: st.Deduplicated,
		RequestRate:  st.RequestRate,
		ErrorRate:    st.ErrorRate,
	})
}

// entityResponse renders a State with symbolic message names.
type entityResponse struct {
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	MessageID   string     `json:"message_id"`
	MessageType string     `json:"message_type"`
	Value       *float64   `json:"value"`
	Valid       bool       `json:"valid"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

func toEntityResponse(st entity.State) entityResponse {
	resp := entityResponse{
		Name:        st.Name,
		Kind:        string(st.Kind),
		MessageID:   st.ID.String(),
		MessageType: st.Type.String(),
		Valid:       st.Valid,
	}
	if st.Valid {
		v := st.Value
		resp.Value = &v
	}
	if !st.Timestamp.IsZero() {
		ts := st.Timestamp.UTC()
		resp.Timestamp = &ts
	}
	return resp
}

func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	states := s.entities.States()
	resp := make([]entityResponse, 0, len(states))
	for _, st := range states {
		resp = append(resp, toEntityResponse(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": resp,
		"count":    len(resp),
	})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.entities.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e.State()))
}

type setEntityRequest struct {
	Value json.RawMessage `json:"value"`
}

// parseValue accepts a JSON number or boolean.
func parseValue(raw json.RawMessage) (float64, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, true
		}
		return 0, true
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	return 0, false
}

func (s *Server) handleSetEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req setEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	v, ok := parseValue(req.Value)
	if !ok {
		writeBadRequest(w, "value must be a number or boolean")
		return
	}

	switch err := s.entities.Set(name, v); {
	case errors.Is(err, entity.ErrNotFound):
		writeNotFound(w, err.Error())
		return
	case errors.Is(err, entity.ErrReadOnly):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case errors.Is(err, entity.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		writeInternalError(w, err.Error())
		return
	}

	s.logger.Info().Str("entity", name).Float64("value", v).Str("request_id", requestID(r)).Msg("Entity set")

	e, err := s.entities.Get(name)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, toEntityResponse(e.State()))
}

type enqueueRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Type == "" {
		req.Type = "READ_DATA"
	}

	t, err := opentherm.ParseMessageType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if !t.IsMaster() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, t.String()+" is not a master request type")
		return
	}
	id, err := opentherm.ParseMessageID(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	queued := s.hub.Enqueue(t, id)
	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"type":    t.String(),
		"id":      id.String(),
		"queued":  queued,
		"pending": s.hub.Pending(),
	})
}
