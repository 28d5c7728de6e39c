package api

import (
	"CardDetServer/engine"
	iface "CardDetServer/interface"
	"CardDetServer/logger"
	"CardDetServer/session"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// CardsCommand 旁路查询命令：查询已确认的卡片
const CardsCommand = "give_me_cards"

const (
	readLimit    = 20 * 1024 * 1024
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// CardsMessage is sent after a frame in which cards became confirmed.
type CardsMessage struct {
	Type      string       `json:"type"`
	New       []iface.Card `json:"new"`
	Confirmed []string     `json:"confirmed"`
}

// wsConn serializes writes; the session may close the connection from the
// idle monitor while the read loop is replying.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) write(mt int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(mt, data)
}

func (w *wsConn) text(format string, args ...any) error {
	return w.write(websocket.TextMessage, []byte(fmt.Sprintf(format, args...)))
}

func (w *wsConn) json(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) close(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	_ = w.conn.Close()
}

func (s *Server) serveWS(c *gin.Context) {
	sessionID := c.Param("sessionID")
	// 在升级前检查会话是否存在
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	conn.SetReadLimit(readLimit)
	ws := &wsConn{conn: conn}
	sess.OnClose(func() { ws.close("session released") })
	sess.Touch()

	ctx := c.Request.Context()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			// 客户端断开或读取错误，释放会话
			if s.sessions.Release(sessionID) == nil {
				logger.ForSession(sessionID).Info("connection closed", zap.Error(err))
			}
			return
		}
		sess.Touch()

		var frame gocv.Mat
		switch mt {
		case websocket.TextMessage:
			if bytes.HasPrefix(bytes.TrimSpace(msg), []byte(CardsCommand)) {
				if err := replyCards(ws, sess.Cards()); err != nil {
					logger.ForSession(sessionID).Warn("cards reply failed", zap.Error(err))
				}
				continue
			}
			frame, err = engine.Base64ToMat(string(msg))
		case websocket.BinaryMessage:
			frame, err = engine.DecodeFrame(msg)
		default:
			_ = ws.text("unsupported message type")
			continue
		}
		if err != nil {
			logger.ForSession(sessionID).Warn("invalid frame", zap.Error(err))
			_ = ws.text("invalid image: %v", err)
			continue
		}

		reply, err := sess.Submit(ctx, frame)
		if errors.Is(err, session.ErrClosed) {
			return
		}
		if err != nil {
			logger.ForSession(sessionID).Warn("submit frame failed", zap.Error(err))
			return
		}
		if reply.Err != nil {
			_ = ws.text("processing error: %v", reply.Err)
			continue
		}
		if err := sendReply(ws, mt, msg, reply); err != nil {
			logger.ForSession(sessionID).Warn("send reply failed", zap.Error(err))
		}
	}
}

// sendReply writes the annotated frame, or echoes the input unchanged when
// the frame was skipped, followed by the newly confirmed cards if any.
func sendReply(ws *wsConn, mt int, msg []byte, reply session.Reply) error {
	var err error
	if reply.Frame != nil {
		err = ws.write(websocket.BinaryMessage, reply.Frame)
	} else {
		err = ws.write(mt, msg)
	}
	if err != nil || len(reply.Cards) == 0 {
		return err
	}
	return ws.json(CardsMessage{Type: "cards", New: reply.Cards, Confirmed: reply.Confirmed})
}

// replyCards answers the side-channel query. Nothing is sent while no card
// is confirmed.
func replyCards(ws *wsConn, cards iface.CardsReply) error {
	if len(cards.Ids) == 0 {
		return nil
	}
	if err := ws.text("Ids: %s", strings.Join(cards.Ids, ", ")); err != nil {
		return err
	}
	if cards.Image == "" {
		return nil
	}
	return ws.write(websocket.TextMessage, []byte(cards.Image))
}
