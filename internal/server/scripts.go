package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/offbook/offbook/internal/observe"
	"github.com/offbook/offbook/internal/rehearsal"
	"github.com/offbook/offbook/internal/script"
)

// maxScriptBytes caps the accepted upload size.
const maxScriptBytes = 1 << 20

// uploadRequest is the body of POST /api/scripts.
type uploadRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// scriptSummary is the list-view projection of a script.
type scriptSummary struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Status     script.Status `json:"status"`
	Characters int           `json:"characters"`
	Lines      int           `json:"lines"`
	CreatedAt  string        `json:"createdAt"`
}

func (s *Server) handleUploadScript(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScriptBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "script text must not be empty")
		return
	}

	sc := script.Parse(req.Title, req.Text)
	if err := s.scripts.Add(r.Context(), sc); err != nil {
		observe.Logger(r.Context()).Error("server: store script", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store script")
		return
	}

	s.metrics.ScriptsUploaded.Add(r.Context(), 1)
	observe.Logger(r.Context()).Info("server: script uploaded",
		"script_id", sc.ID, "lines", len(sc.Lines), "characters", len(sc.Characters))
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	all, err := s.scripts.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("server: list scripts", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list scripts")
		return
	}
	summaries := make([]scriptSummary, 0, len(all))
	for _, sc := range all {
		summaries = append(summaries, scriptSummary{
			ID:         sc.ID,
			Title:      sc.Title,
			Status:     sc.Status,
			Characters: len(sc.Characters),
			Lines:      len(sc.Lines),
			CreatedAt:  sc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": summaries})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scripts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			writeError(w, http.StatusNotFound, "script not found")
			return
		}
		observe.Logger(r.Context()).Error("server: get script", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load script")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := s.scripts.Remove(r.Context(), r.PathValue("id")); err != nil {
		observe.Logger(r.Context()).Error("server: delete script", "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete script")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// assignRequest is the body of PATCH /api/scripts/{id}/characters/{characterID}.
type assignRequest struct {
	AssignedTo script.Assignment `json:"assignedTo"`
	VoiceID    *string           `json:"voiceId,omitempty"`
}

func (s *Server) handleAssignCharacter(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssignedTo != "" && !req.AssignedTo.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid assignment")
		return
	}

	scriptID := r.PathValue("id")
	characterID := r.PathValue("characterID")
	var errNoCharacter = errors.New("character not found")

	updated, err := s.scripts.Update(r.Context(), scriptID, func(sc *script.Script) error {
		for i := range sc.Characters {
			if sc.Characters[i].ID != characterID {
				continue
			}
			if req.AssignedTo != "" {
				sc.Characters[i].Assignment = req.AssignedTo
			}
			if req.VoiceID != nil {
				sc.Characters[i].VoiceID = *req.VoiceID
			}
			refreshStatus(sc)
			return nil
		}
		return errNoCharacter
	})
	if err != nil {
		switch {
		case errors.Is(err, script.ErrNotFound):
			writeError(w, http.StatusNotFound, "script not found")
		case errors.Is(err, errNoCharacter):
			writeError(w, http.StatusNotFound, "character not found")
		default:
			observe.Logger(r.Context()).Error("server: assign character", "error", err)
			writeError(w, http.StatusInternalServerError, "could not update script")
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// refreshStatus recomputes the script's progress status after an assignment
// change.
func refreshStatus(sc *script.Script) {
	if sc.ReadyForRehearsal() {
		sc.Status = script.StatusReady
		return
	}
	for _, c := range sc.Characters {
		if c.Assignment != script.AssignedUnassigned {
			sc.Status = script.StatusAssigned
			return
		}
	}
	if len(sc.Lines) > 0 {
		sc.Status = script.StatusParsed
	} else {
		sc.Status = script.StatusUploaded
	}
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	scriptID := r.PathValue("id")
	if _, err := s.scripts.Get(r.Context(), scriptID); err != nil {
		if errors.Is(err, script.ErrNotFound) {
			writeError(w, http.StatusNotFound, "script not found")
			return
		}
		observe.Logger(r.Context()).Error("server: get script", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load script")
		return
	}

	attempts, err := s.attempts.ListByScript(r.Context(), scriptID)
	if err != nil {
		observe.Logger(r.Context()).Error("server: list attempts", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list attempts")
		return
	}
	if attempts == nil {
		attempts = []rehearsal.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}
