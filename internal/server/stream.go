package server

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	maxInbound  = 4096
	replyBuffer = 8
)

var upgrader = websocket.Upgrader{
	// CORS middleware already decides which origins reach this handler
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is one message pushed to a stream client
type Frame struct {
	Type      string                        `json:"type"`
	Message   string                        `json:"message,omitempty"`
	RunID     string                        `json:"run_id,omitempty"`
	Stages    map[string]map[string]float64 `json:"stages,omitempty"`
	Timestamp int64                         `json:"timestamp"`
}

// Frame types
const (
	FrameSystem = "system"
	FrameStats  = "stats"
	FramePong   = "pong"
	FrameError  = "error"
)

type request struct {
	Type string `json:"type"`
}

// stream upgrades to a websocket and pushes stage stats every interval.
// Clients may send {"type":"ping"} or {"type":"stats"} at any time.
func (s *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.IncWSConnections()
	defer s.metrics.DecWSConnections()

	replies := make(chan Frame, replyBuffer)
	done := make(chan struct{})
	go s.readRequests(conn, replies, done)

	if err := s.send(conn, Frame{Type: FrameSystem, Message: "connected to readpipe", RunID: s.cfg.RunID}); err != nil {
		return
	}
	if err := s.sendStats(conn); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-done:
			return
		case f := <-replies:
			if f.Type == FrameStats {
				err = s.sendStats(conn)
			} else {
				err = s.send(conn, f)
			}
		case <-ticker.C:
			err = s.sendStats(conn)
		}
		if err != nil {
			s.logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}
}

// readRequests owns the read side of conn. Replies go through the writer loop
// since a websocket allows one concurrent writer.
func (s *Server) readRequests(conn *websocket.Conn, replies chan<- Frame, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxInbound)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		s.metrics.RecordWSMessage("in")

		var req request
		reply := Frame{Type: FrameError, Message: "unknown message type"}
		if err := sonic.Unmarshal(data, &req); err != nil {
			reply.Message = "malformed message"
		} else {
			switch req.Type {
			case "ping":
				reply = Frame{Type: FramePong}
			case "stats":
				reply = Frame{Type: FrameStats}
			}
		}

		select {
		case replies <- reply:
		default:
			// a client flooding requests loses replies, not the stream
		}
	}
}

func (s *Server) sendStats(conn *websocket.Conn) error {
	return s.send(conn, Frame{
		Type:   FrameStats,
		RunID:  s.cfg.RunID,
		Stages: groupStats(s.sample()),
	})
}

func (s *Server) send(conn *websocket.Conn, f Frame) error {
	f.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.metrics.RecordWSMessage("out")
	return nil
}
