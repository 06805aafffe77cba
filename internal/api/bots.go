package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"postpilot/internal/models"
	"postpilot/internal/store"
)

// botResponse is a bot plus its derived success rate. The stored secret never
// leaves the server.
type botResponse struct {
	models.Bot
	SuccessRate int `json:"success_rate"`
}

func toBotResponse(bot models.Bot) botResponse {
	return botResponse{Bot: bot, SuccessRate: bot.SuccessRate()}
}

type createBotRequest struct {
	Name     string              `json:"name"`
	Username string              `json:"username"`
	Password string              `json:"password"`
	Settings *models.BotSettings `json:"settings"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	if req.Name == "" || len(req.Name) > 50 {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "must be 1-50 characters", Field: "name"})
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "is required", Field: "username"})
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "is required", Field: "password"})
		return
	}

	sealed, err := s.cipher.Encrypt(req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	settings := models.DefaultBotSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	now := time.Now()
	bot := models.Bot{
		ID:        uuid.New().String(),
		OwnerID:   ownerID(r),
		Name:      req.Name,
		Username:  req.Username,
		Secret:    sealed,
		Status:    models.BotInactive,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.bots.Create(r.Context(), bot); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusBadRequest, errorBody("bot with this name already exists"))
			return
		}
		s.writeDomainError(w, err)
		return
	}

	s.recordBotAudit(r, bot, "bot created")
	writeJSON(w, http.StatusCreated, dataBody(toBotResponse(bot)))
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.bots.List(r.Context(), ownerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]botResponse, 0, len(bots))
	for _, bot := range bots {
		out = append(out, toBotResponse(bot))
	}
	writeJSON(w, http.StatusOK, dataBody(out))
}

type updateBotRequest struct {
	Name     *string             `json:"name"`
	Username *string             `json:"username"`
	Password *string             `json:"password"`
	Status   *models.BotStatus   `json:"status"`
	Settings *models.BotSettings `json:"settings"`
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	var req updateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}

	bot, err := s.bots.GetOwned(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" || len(*req.Name) > 50 {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "must be 1-50 characters", Field: "name"})
			return
		}
		bot.Name = *req.Name
	}
	if req.Username != nil {
		bot.Username = *req.Username
	}
	if req.Password != nil {
		sealed, err := s.cipher.Encrypt(*req.Password)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		bot.Secret = sealed
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unknown status", Field: "status"})
			return
		}
		bot.Status = *req.Status
	}
	if req.Settings != nil {
		bot.Settings = *req.Settings
	}

	bot.UpdatedAt = time.Now()
	if err := s.bots.Update(r.Context(), bot); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusBadRequest, errorBody("bot with this name already exists"))
			return
		}
		s.writeDomainError(w, err)
		return
	}

	s.recordBotAudit(r, bot, "bot updated")
	writeJSON(w, http.StatusOK, dataBody(toBotResponse(bot)))
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bot, err := s.bots.GetOwned(r.Context(), id, ownerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.bots.Delete(r.Context(), id, ownerID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.recordBotAudit(r, bot, "bot deleted")
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "bot deleted"})
}

// handleTestBot probes the bot's login. The probe itself is the execution
// adapter's concern; here it marks the bot active and stamps the login time.
func (s *Server) handleTestBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bot, err := s.bots.GetOwned(r.Context(), id, ownerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now()
	if err := s.bots.Touch(r.Context(), bot.ID, now); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(map[string]any{
		"login_time": now,
		"status":     models.BotActive,
	}))
}

func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request) {
	bot, err := s.bots.GetOwned(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(map[string]any{
		"success_count": bot.SuccessCount,
		"failure_count": bot.FailureCount,
		"success_rate":  bot.SuccessRate(),
		"last_login_at": bot.LastLoginAt,
		"status":        bot.Status,
	}))
}

func (s *Server) recordBotAudit(r *http.Request, bot models.Bot, message string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(r.Context(), models.LogEntry{
		Level:    models.LogInfo,
		Category: models.CategoryBot,
		Message:  message,
		BotID:    bot.ID,
		UserID:   bot.OwnerID,
		Metadata: map[string]any{"name": bot.Name},
	})
}
