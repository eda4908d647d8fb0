// internal/ledger/rpcledger/stream.go
package rpcledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = time.Second
	notifyBuffer     = 64
)

// Subscribe opens a websocket to the notification endpoint and streams
// token notifications until ctx ends or the connection drops.
func (l *Ledger) Subscribe(ctx context.Context) (<-chan ledger.Notification, <-chan error, error) {
	if l.cfg.WSEndpoint == "" {
		return nil, nil, fmt.Errorf("%w: no websocket endpoint", ErrNoEndpoints)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.cfg.WSEndpoint, nil)
	if err != nil {
		return nil, nil, ledger.NewTransientError("subscribe", err)
	}

	s := &stream{
		conn:   conn,
		notes:  make(chan ledger.Notification, notifyBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		ping:   l.cfg.PingInterval,
		logger: l.logger.With(zap.String("ws", l.cfg.WSEndpoint)),
	}
	if err := s.subscribe(); err != nil {
		conn.Close()
		return nil, nil, ledger.NewTransientError("subscribe", err)
	}

	l.metrics.UpdateWebsocketConnections(int(l.streams.Add(1)), "connected")
	go func() {
		s.run(ctx)
		l.metrics.UpdateWebsocketConnections(int(l.streams.Add(-1)), "disconnected")
	}()
	return s.notes, s.errs, nil
}

type stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	notes   chan ledger.Notification
	errs    chan error
	done    chan struct{}
	ping    time.Duration
	logger  *zap.Logger
}

func (s *stream) subscribe() error {
	params, _ := json.Marshal([]string{subscriptionTopic})
	req := wireMessage{JSONRPC: jsonrpcVersion, ID: json.RawMessage("1"), Method: MethodSubscribe, Params: params}

	s.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return err
	}

	s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var ack wireMessage
	if err := s.conn.ReadJSON(&ack); err != nil {
		return err
	}
	if ack.Error != nil {
		return fmt.Errorf("%w: %v", ErrNotSubscribed, ack.Error)
	}
	var id uint64
	if err := json.Unmarshal(ack.Result, &id); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSubscribed, err)
	}
	s.logger.Debug("Subscribed to ledger notifications", zap.Uint64("subscription", id))
	return nil
}

func (s *stream) run(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	})

	go s.heartbeat()
	go func() {
		select {
		case <-ctx.Done():
			s.writeMu.Lock()
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			s.writeMu.Unlock()
			s.conn.Close()
		case <-s.done:
		}
	}()

	err := s.readLoop(ctx)
	close(s.done)
	s.conn.Close()

	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Notification stream dropped", zap.Error(err))
		s.errs <- ledger.NewTransientError("subscribe", err)
	}
	close(s.notes)
}

func (s *stream) readLoop(ctx context.Context) error {
	for {
		var msg wireMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg.Method != MethodNotification {
			continue
		}

		var params notificationParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("Malformed notification skipped", zap.Error(err))
			continue
		}

		select {
		case s.notes <- params.Result.notification():
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *stream) heartbeat() {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}
