package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/session"
	"github.com/battlegrid/coordinator/internal/storage"
)

type createCombatRequest struct {
	Nickname  string          `json:"nickname"`
	GMID      string          `json:"gm_id"`
	PlayerIDs []string        `json:"player_ids"`
	Save      json.RawMessage `json:"save,omitempty"`
	SaveID    string          `json:"save_id,omitempty"`
}

type createCombatResponse struct {
	ID string `json:"id"`
}

// CreateCombat builds a session from an inline save or a stored preset.
// The roster and GM are fixed here for the session's whole life.
func CreateCombat(reg *session.Registry, saves storage.SaveRepo, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCombatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		if req.SaveID != "" {
			if saves == nil {
				http.Error(w, "save lookup not available", http.StatusServiceUnavailable)
				return
			}
			stored, err := saves.GetSave(r.Context(), req.SaveID)
			if err != nil {
				logger.Error("loading combat save", zap.String("save_id", req.SaveID), zap.Error(err))
				http.Error(w, "failed to load save", http.StatusInternalServerError)
				return
			}
			if stored == nil {
				http.Error(w, "save not found", http.StatusNotFound)
				return
			}
			req.Save = stored.Save
			if req.Nickname == "" {
				req.Nickname = stored.Nickname
			}
			if req.GMID == "" {
				req.GMID = stored.GMID
			}
			if len(req.PlayerIDs) == 0 && len(stored.PlayerIDs) > 0 {
				if err := json.Unmarshal(stored.PlayerIDs, &req.PlayerIDs); err != nil {
					logger.Warn("stored roster unreadable", zap.String("save_id", req.SaveID), zap.Error(err))
				}
			}
		}

		if req.GMID == "" {
			http.Error(w, "gm_id is required", http.StatusBadRequest)
			return
		}
		if len(req.Save) == 0 {
			http.Error(w, "save or save_id is required", http.StatusBadRequest)
			return
		}

		s := reg.Create(session.CreateParams{
			Nickname: req.Nickname,
			GMID:     req.GMID,
			Players:  req.PlayerIDs,
			Save:     req.Save,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createCombatResponse{ID: s.ID})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
