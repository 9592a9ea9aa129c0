package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/internal/router"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// turnPayload is the POST /v1/turn request body.
type turnPayload struct {
	Message     string `json:"message"`
	CampaignID  string `json:"campaignId"`
	CharacterID string `json:"characterId"`
	SessionID   string `json:"sessionId,omitempty"`

	CampaignDetails  map[string]string `json:"campaignDetails,omitempty"`
	CharacterDetails *characterSheet   `json:"characterDetails,omitempty"`

	History   []historyMessage `json:"history,omitempty"`
	Plan      string           `json:"plan,omitempty"`
	TurnCount int              `json:"turnCount,omitempty"`

	// Stream requests a text/event-stream response with incremental chunks.
	Stream bool `json:"stream,omitempty"`
}

type characterSheet struct {
	Name               string         `json:"name"`
	Race               string         `json:"race,omitempty"`
	Class              string         `json:"class,omitempty"`
	Level              int            `json:"level,omitempty"`
	AbilityScores      map[string]int `json:"abilityScores,omitempty"`
	SkillProficiencies []string       `json:"skillProficiencies,omitempty"`
	Description        string         `json:"description,omitempty"`
}

type historyMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// turnResult is the POST /v1/turn response body, also sent as the terminal
// SSE event of a streamed turn.
type turnResult struct {
	Text         string                   `json:"text"`
	Segments     []types.NarrationSegment `json:"segments,omitempty"`
	RollRequests []types.RollRequest      `json:"rollRequests,omitempty"`
	ArtPrompt    string                   `json:"artPrompt,omitempty"`
	Combat       *types.CombatSnapshot    `json:"combat,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload turnPayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if payload.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaignId is required")
		return
	}

	req := payload.toTurnRequest()

	if payload.Stream {
		s.streamTurn(w, r, req)
		return
	}

	resp, err := s.turns.GenerateTurn(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, router.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		observe.Logger(r.Context()).Error("turn generation failed",
			"campaign_id", payload.CampaignID, "error", err)
		writeError(w, status, "turn generation failed")
		return
	}

	writeJSON(w, http.StatusOK, resultFrom(resp))
}

// streamTurn forwards backend chunks as SSE "chunk" events and closes with a
// single "turn" event carrying the final structured response. Errors after
// the stream opens are reported as an "error" event because the status line
// is already committed.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, req types.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusNotImplemented, "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	req.OnStream = func(chunk string) {
		writeEvent(w, "chunk", struct {
			Text string `json:"text"`
		}{Text: chunk})
		flusher.Flush()
	}

	resp, err := s.turns.GenerateTurn(r.Context(), req)
	if err != nil {
		observe.Logger(r.Context()).Error("streamed turn generation failed",
			"campaign_id", req.Context.CampaignID, "error", err)
		writeEvent(w, "error", errorBody{Error: "turn generation failed"})
		flusher.Flush()
		return
	}

	writeEvent(w, "turn", resultFrom(resp))
	flusher.Flush()
}

func (p turnPayload) toTurnRequest() types.TurnRequest {
	req := types.TurnRequest{
		Message: p.Message,
		Context: types.GameContext{
			CampaignID:      p.CampaignID,
			CharacterID:     p.CharacterID,
			SessionID:       p.SessionID,
			CampaignDetails: p.CampaignDetails,
		},
		Plan:      types.Plan(p.Plan),
		TurnCount: p.TurnCount,
	}
	if cs := p.CharacterDetails; cs != nil {
		req.Context.CharacterDetails = &types.CharacterDetails{
			Name:               cs.Name,
			Race:               cs.Race,
			Class:              cs.Class,
			Level:              cs.Level,
			AbilityScores:      cs.AbilityScores,
			SkillProficiencies: cs.SkillProficiencies,
			Description:        cs.Description,
		}
	}
	for _, m := range p.History {
		req.History = append(req.History, types.ChatMessage{
			ID:        m.ID,
			Role:      types.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return req
}

func resultFrom(resp *types.TurnResponse) turnResult {
	return turnResult{
		Text:         resp.Text,
		Segments:     resp.Segments,
		RollRequests: resp.RollRequests,
		ArtPrompt:    resp.ArtPrompt,
		Combat:       resp.Combat,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeEvent emits one SSE event with a JSON payload. Encoding failures are
// silently dropped; the connection is already committed.
func writeEvent(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
