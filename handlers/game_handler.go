package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/middleware"
	"github.com/Natchlou/le-q/models"
	"github.com/Natchlou/le-q/services"
)

type GameHandler struct {
	svc    *services.RoomService
	hub    *services.Hub
	logger *zap.Logger
}

func NewGameHandler(svc *services.RoomService, hub *services.Hub, logger *zap.Logger) *GameHandler {
	return &GameHandler{svc: svc, hub: hub, logger: logger}
}

// respondError maps the error taxonomy onto HTTP. The kind travels in the
// body so clients don't have to tell 409s apart by message text.
func respondError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindInvalidArgument:
		status = http.StatusBadRequest
	case models.KindFailedPrecondition, models.KindAlreadyExists:
		status = http.StatusConflict
	case models.KindResourceExhausted:
		status = http.StatusServiceUnavailable
	case models.KindUnauthorized:
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateRoom returns the room along with the host token, which is handed
// out here and never again.
func (h *GameHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.svc.CreateRoom(req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": room, "host_token": room.HostToken})
}

type JoinRoomRequest struct {
	Pseudo string `json:"pseudo" binding:"required"`
}

// JoinRoom creates the player and hands back the snapshot they start
// from, so the client can render before the websocket is up.
func (h *GameHandler) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, snap, err := h.svc.JoinRoom(c.Param("code"), req.Pseudo)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"player": player, "snapshot": snap})
}

// GetRoom serves the full room snapshot; player_id narrows in the
// caller's own answer.
func (h *GameHandler) GetRoom(c *gin.Context) {
	playerID := uuid.Nil
	if raw := c.Query("player_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player_id"})
			return
		}
		playerID = parsed
	}

	snap, err := h.svc.Snapshot(c.Param("code"), playerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

type SendQuestionRequest struct {
	Text          string `json:"text" binding:"required"`
	CorrectAnswer string `json:"correct_answer" binding:"required"`
}

func (h *GameHandler) SendQuestion(c *gin.Context) {
	var req SendQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID, err := h.svc.RoomIDByCode(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	question, err := h.svc.SendQuestion(middleware.HostRoom(c), roomID, req.Text, req.CorrectAnswer)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

func (h *GameHandler) EndRoom(c *gin.Context) {
	roomID, err := h.svc.RoomIDByCode(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	room, err := h.svc.EndGame(middleware.HostRoom(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

type SubmitAnswerRequest struct {
	PlayerID       uuid.UUID `json:"player_id" binding:"required"`
	QuestionID     uuid.UUID `json:"question_id" binding:"required"`
	Text           string    `json:"text" binding:"required"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := h.svc.SubmitAnswer(req.PlayerID, req.QuestionID, req.Text, req.ResponseTimeMs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, answer)
}

func (h *GameHandler) MarkCorrect(c *gin.Context) {
	answerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid answer id"})
		return
	}

	answer, player, err := h.svc.MarkCorrect(middleware.HostRoom(c), answerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"answer": answer, "player": player})
}

type AdjustScoreRequest struct {
	Delta *int `json:"delta" binding:"required"`
}

func (h *GameHandler) AdjustScore(c *gin.Context) {
	playerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
		return
	}

	var req AdjustScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := h.svc.AdjustScore(middleware.HostRoom(c), playerID, *req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, player)
}

// Heartbeat keeps a session alive between websocket pings; primarily for
// clients that fall back to polling.
func (h *GameHandler) Heartbeat(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := h.hub.Heartbeat(sessionID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *GameHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":  h.svc.Stats(),
		"gateway": h.hub.Stats(),
	})
}
