package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/matchhub/matchhub/internal/application/matchmaker"
	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/infrastructure/sse"
)

type playerPayload struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name,omitempty"`
	GamesPlayed int    `json:"games_played,omitempty"`
	Wins        int    `json:"wins,omitempty"`
	WinStreak   int    `json:"win_streak,omitempty"`
	Rating      int    `json:"rating,omitempty"`
}

func (p playerPayload) participant() session.ParticipantRef {
	return session.ParticipantRef{
		PlayerID:    p.PlayerID,
		DisplayName: p.DisplayName,
		Stats: session.StatsSummary{
			GamesPlayed: p.GamesPlayed,
			Wins:        p.Wins,
			WinStreak:   p.WinStreak,
			Rating:      p.Rating,
		},
	}
}

type findSessionRequest struct {
	playerPayload
	Kind       string   `json:"kind"`
	Mode       string   `json:"mode"`
	Capacity   int      `json:"capacity,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
	AllowList  []string `json:"allow_list,omitempty"`
	SkillMin   *int     `json:"skill_min,omitempty"`
	SkillMax   *int     `json:"skill_max,omitempty"`
	Guest      bool     `json:"guest,omitempty"`
}

func (s *Server) findOrCreateSession(w http.ResponseWriter, r *http.Request) {
	var req findSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	in := matchmaker.FindOrCreateInput{
		Player:    req.participant(),
		Kind:      session.Kind(req.Kind),
		Mode:      req.Mode,
		Capacity:  req.Capacity,
		AllowList: req.AllowList,
		Guest:     req.Guest,
	}
	if req.TTLSeconds > 0 {
		in.TTL = time.Duration(req.TTLSeconds) * time.Second
	}
	if req.SkillMin != nil && req.SkillMax != nil {
		in.SkillWindow = &session.SkillWindow{Min: *req.SkillMin, Max: *req.SkillMax}
	}

	res, err := s.matchSvc.FindOrCreate(r.Context(), in)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]interface{}{
		"session": res.Session,
		"created": res.Created,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	sess, err := s.matchSvc.GetSession(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req playerPayload
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.matchSvc.Join(r.Context(), id, req.participant())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type leaveSessionRequest struct {
	PlayerID string `json:"player_id"`
	Cause    string `json:"cause,omitempty"`
}

func (s *Server) leaveSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req leaveSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.matchSvc.Leave(r.Context(), id, req.PlayerID, session.Cause(req.Cause))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type readyRequest struct {
	PlayerID string `json:"player_id"`
}

func (s *Server) markReady(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req readyRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.matchSvc.MarkReady(r.Context(), id, req.PlayerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) startMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	sess, err := s.matchSvc.StartMatch(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type completeSessionRequest struct {
	WinnerID *string `json:"winner_id,omitempty"`
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req completeSessionRequest
	if err := decodeBody(r, &req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.matchSvc.Complete(r.Context(), id, req.WinnerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type cancelSessionRequest struct {
	Cause string `json:"cause,omitempty"`
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req cancelSessionRequest
	if err := decodeBody(r, &req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.matchSvc.Cancel(r.Context(), id, session.Cause(req.Cause))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) revalidateSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	sess, err := s.matchSvc.Revalidate(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.matchSvc.Stats(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// streamSession pushes session snapshots over SSE: one on connect, then
// one per committed change until the client disconnects or the session
// reaches a terminal state.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	current, err := s.matchSvc.GetSession(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := sse.NewClient(id)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client.ID)

	// Deliver to this client only. Each stream holds its own store
	// subscription, so routing through Broadcast would hand every client
	// one copy per open stream.
	unsubscribe := s.matchSvc.Subscribe(id, func(snapshot *session.Session) {
		s.sseHub.Send(client.ID, snapshot)
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, flusher, current)
	if current.Status.Terminal() {
		return
	}

	ctx := r.Context()
	for {
		select {
		case snapshot := <-client.Events:
			if snapshot == nil {
				return
			}
			writeEvent(w, flusher, snapshot)
			if snapshot.Status.Terminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, snapshot *session.Session) {
	payload, _ := json.Marshal(snapshot)
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
