package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/models"
	"github.com/Natchlou/le-q/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var validate = validator.New()

type WSHandler struct {
	hub    *services.Hub
	svc    *services.RoomService
	tokens *services.TokenIssuer
	logger *zap.Logger
}

func NewWSHandler(hub *services.Hub, svc *services.RoomService, tokens *services.TokenIssuer, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, svc: svc, tokens: tokens, logger: logger}
}

// wsConn adapts a gorilla connection to the gateway's transport
// interface.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// hostSlot in the playerID position selects the host console stream.
const hostSlot = "host"

// Serve upgrades /ws/:code/:playerID and attaches a session. Passing
// ?session=<id> resumes a disconnected session inside its grace window.
// The playerID slot also takes the literal "host" for the host console,
// authenticated by ?token=<host token> since browsers cannot set headers
// on a websocket dial. The client receives its session id first, then
// the snapshot, then the live event stream.
func (h *WSHandler) Serve(c *gin.Context) {
	code := c.Param("code")

	var playerID, hostRoom uuid.UUID
	host := c.Param("playerID") == hostSlot
	if host {
		roomID, err := h.tokens.Verify(c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid host token"})
			return
		}
		hostRoom = roomID
	} else {
		id, err := uuid.Parse(c.Param("playerID"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
			return
		}
		playerID = id
	}

	resumeID := uuid.Nil
	if raw := c.Query("session"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		resumeID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("code", code), zap.Error(err))
		return
	}

	var sess *services.Session
	if host {
		sess, err = h.hub.AttachHost(&wsConn{conn: conn}, code, hostRoom, resumeID)
	} else {
		sess, err = h.hub.Attach(&wsConn{conn: conn}, code, playerID, resumeID)
	}
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	// The pumps are not running yet, so this synchronous write is safe
	// and guaranteed to land before the snapshot.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.Frame{Type: models.FrameSession, Payload: gin.H{
		"session_id": sess.ID,
		"player_id":  sess.PlayerID,
		"room_id":    sess.RoomID,
	}}); err != nil {
		h.hub.Degrade(sess.ID, "session handshake failed")
		return
	}

	go h.writePump(conn, sess)
	go h.readPump(conn, sess)
}

// inboundMessage is the client-to-server envelope.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitAnswerPayload struct {
	QuestionID     string `json:"question_id" validate:"required,uuid"`
	Text           string `json:"text" validate:"required"`
	ResponseTimeMs int64  `json:"response_time_ms" validate:"gte=0"`
}

func (h *WSHandler) readPump(conn *websocket.Conn, sess *services.Session) {
	defer h.hub.Degrade(sess.ID, "connection closed")

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.hub.Heartbeat(sess.ID)
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed",
					zap.String("session_id", sess.ID.String()), zap.Error(err))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.Push(models.ErrorFrame(fmt.Errorf("%w: malformed message", models.ErrInvalidArgument)))
			continue
		}
		h.handleMessage(sess, msg)
	}
}

func (h *WSHandler) handleMessage(sess *services.Session, msg inboundMessage) {
	switch msg.Type {
	case "submit_answer":
		var p submitAnswerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			sess.Push(models.ErrorFrame(fmt.Errorf("%w: malformed submit_answer payload", models.ErrInvalidArgument)))
			return
		}
		if err := validate.Struct(p); err != nil {
			sess.Push(models.ErrorFrame(fmt.Errorf("%w: %s", models.ErrInvalidArgument, err.Error())))
			return
		}
		questionID, err := uuid.Parse(p.QuestionID)
		if err != nil {
			sess.Push(models.ErrorFrame(fmt.Errorf("%w: invalid question_id", models.ErrInvalidArgument)))
			return
		}
		answer, err := h.svc.SubmitAnswer(sess.PlayerID, questionID, p.Text, p.ResponseTimeMs)
		if err != nil {
			sess.Push(models.ErrorFrame(err))
			return
		}
		sess.Push(models.Frame{Type: models.FrameAnswer, Payload: answer})

	case "heartbeat":
		h.hub.Heartbeat(sess.ID)

	case "request_snapshot":
		if err := h.hub.RequestSnapshot(sess.ID); err != nil {
			sess.Push(models.ErrorFrame(err))
		}

	case "ping":
		sess.Push(models.Frame{Type: models.FramePong})

	default:
		sess.Push(models.ErrorFrame(fmt.Errorf("%w: unknown message type %q", models.ErrInvalidArgument, msg.Type)))
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, sess *services.Session) {
	ticker := time.NewTicker(pingPeriod)
	out := sess.Out()
	done := sess.Done()
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				h.hub.Degrade(sess.ID, "write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Degrade(sess.ID, "ping failed")
				return
			}
		case <-done:
			// Flush whatever is queued (a final room_ended, typically)
			// before the close frame.
			for {
				select {
				case frame := <-out:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if conn.WriteJSON(frame) != nil {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
