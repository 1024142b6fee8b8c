package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// Session is one authenticated realtime connection. All of its subscription
// state is owned by the session and destroyed with it; nothing is shared
// across connections.
type Session struct {
	id        string
	hub       *Hub
	conn      Conn
	principal *contracts.Principal
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // serializes frame writes

	subMu     sync.Mutex // guards the subscription slots
	logSub    *logSubscription
	statusSub *statusSubscription

	closeOnce sync.Once
}

func newSession(id string, hub *Hub, conn Conn, principal *contracts.Principal, logger *zap.SugaredLogger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		hub:       hub,
		conn:      conn,
		principal: principal,
		logger:    logger.With("session_id", id, "principal", principal.ID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// run reads inbound messages until the transport fails or closes, then
// tears the session down.
func (s *Session) run() {
	defer s.close()

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debugw("Connection read failed", "error", err)
			}
			return
		}
		s.dispatch(data)
	}
}

// dispatch routes one inbound message to its handler. Malformed payloads
// produce an error frame but keep the connection open; unknown types are
// logged and ignored.
func (s *Session) dispatch(data []byte) {
	msgType, err := parseEnvelope(data)
	if err != nil {
		s.send(newErrorFrame("malformed message"))
		return
	}

	switch msgType {
	case MsgSubscribeLogs:
		var msg subscribeLogsMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(newErrorFrame("malformed subscribe_logs payload"))
			return
		}
		if err := msg.validate(); err != nil {
			s.send(newErrorFrame(err.Error()))
			return
		}
		s.handleSubscribeLogs(&msg)
	case MsgUnsubscribeLogs:
		s.handleUnsubscribeLogs()
	case MsgSubscribeStatuses:
		s.handleSubscribeStatuses()
	case MsgUnsubscribeStatuses:
		s.handleUnsubscribeStatuses()
	default:
		s.logger.Debugw("Ignoring unknown message type", "type", msgType)
	}
}

// send writes one frame. A transport failure tears the session down; frames
// sent to a closed session are dropped.
func (s *Session) send(frame interface{}) {
	if s.closed() {
		return
	}
	s.writeMu.Lock()
	err := s.conn.WriteJSON(frame)
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Debugw("Frame write failed", "error", err)
		s.close()
		return
	}
	if s.hub.metrics != nil {
		if typed, ok := frameType(frame); ok {
			s.hub.metrics.RecordFrame(typed)
		}
	}
}

func frameType(frame interface{}) (string, bool) {
	switch f := frame.(type) {
	case *logsFrame:
		return f.Type, true
	case *logsErrorFrame:
		return f.Type, true
	case *statusesFrame:
		return f.Type, true
	case *errorFrame:
		return f.Type, true
	}
	return "", false
}

func (s *Session) closed() bool {
	return s.ctx.Err() != nil
}

// close cancels both feature subscriptions, closes the transport, and
// deregisters the session. Idempotent: every exit path funnels through it.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.clearLogSubscription()
		s.clearStatusSubscription()
		_ = s.conn.Close()
		s.hub.removeSession(s)
		s.logger.Debug("Session closed")
	})
}
