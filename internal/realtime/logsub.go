package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var errMissingServerID = errors.New("serverId is required")

const logChunkSize = 4096

// logSubscription is one active log tail. At most one exists per session;
// a new subscribe request cancels the previous one. close is idempotent.
type logSubscription struct {
	serverID  string
	cancel    context.CancelFunc
	stream    io.ReadCloser
	closeOnce sync.Once
}

func (l *logSubscription) close() {
	l.closeOnce.Do(func() {
		l.cancel()
		_ = l.stream.Close()
	})
}

// handleSubscribeLogs opens a log tail for the requested server, replacing
// any prior subscription on this session.
func (s *Session) handleSubscribeLogs(msg *subscribeLogsMsg) {
	// At-most-one invariant: drop the previous stream before anything else.
	s.clearLogSubscription()

	allowed, err := s.hub.authz.Authorize(s.principal, msg.ServerID)
	if err != nil {
		s.logger.Warnw("Log subscription authorization failed", "server_id", msg.ServerID, "error", err)
		s.send(newLogsErrorFrame(msg.ServerID, "authorization check failed"))
		return
	}
	if !allowed {
		s.send(newLogsErrorFrame(msg.ServerID, fmt.Sprintf("not authorized to view logs for server %s", msg.ServerID)))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	stream, command, err := s.hub.compute.StreamLogs(ctx, msg.ServerID, msg.Lines)
	if err != nil {
		// Startup failure: notify the client and leave no dangling
		// subscription.
		cancel()
		s.logger.Warnw("Failed to open log stream", "server_id", msg.ServerID, "error", err)
		s.send(newLogsErrorFrame(msg.ServerID, err.Error()))
		return
	}

	sub := &logSubscription{serverID: msg.ServerID, cancel: cancel, stream: stream}
	s.setLogSubscription(sub)
	if s.hub.metrics != nil {
		s.hub.metrics.LogStreamOpened()
	}

	// Initial confirmation frame carries the retrieval command once.
	s.send(newLogsFrame(msg.ServerID, "", command))

	go s.pumpLogs(ctx, sub)
}

// pumpLogs forwards stream chunks until the stream ends, fails, or the
// subscription is cancelled.
func (s *Session) pumpLogs(ctx context.Context, sub *logSubscription) {
	defer func() {
		if s.hub.metrics != nil {
			s.hub.metrics.LogStreamClosed()
		}
	}()

	buf := make([]byte, logChunkSize)
	for {
		n, err := sub.stream.Read(buf)
		if n > 0 {
			s.send(newLogsFrame(sub.serverID, string(buf[:n]), ""))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Clean end of stream.
				s.dropLogSubscription(sub)
				return
			}
			if ctx.Err() != nil {
				// Cancelled by resubscribe, unsubscribe, or session close.
				return
			}
			s.send(newLogsErrorFrame(sub.serverID, err.Error()))
			s.dropLogSubscription(sub)
			return
		}
	}
}

// handleUnsubscribeLogs cancels the current log subscription, if any.
func (s *Session) handleUnsubscribeLogs() {
	s.clearLogSubscription()
}

func (s *Session) setLogSubscription(sub *logSubscription) {
	s.subMu.Lock()
	s.logSub = sub
	s.subMu.Unlock()
}

// clearLogSubscription closes and forgets the current log subscription.
func (s *Session) clearLogSubscription() {
	s.subMu.Lock()
	sub := s.logSub
	s.logSub = nil
	s.subMu.Unlock()
	if sub != nil {
		sub.close()
	}
}

// dropLogSubscription forgets sub only if it is still the current one, then
// closes it. A stale pump must not cancel a newer subscription.
func (s *Session) dropLogSubscription(sub *logSubscription) {
	s.subMu.Lock()
	if s.logSub == sub {
		s.logSub = nil
	}
	s.subMu.Unlock()
	sub.close()
}
