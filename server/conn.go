package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/session"
)

const helloTimeout = 10 * time.Second

// maxFrameBytes bounds a single inbound message; audio frames are tiny.
const maxFrameBytes = 1 << 16

func (s *Server) handleWS(ctx context.Context, conn *websocket.Conn, headerDeviceID string) {
	conn.SetReadLimit(maxFrameBytes)

	hello, err := s.readHello(ctx, conn)
	if err != nil {
		s.logger.Warn("handshake failed", zap.Error(err))
		_ = conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}

	deviceID := hello.DeviceID
	if deviceID == "" {
		deviceID = headerDeviceID
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	format := formatFromParams(hello.AudioParams, s.cfg.Audio)

	sink := newWSSink(ctx, conn, format, s.logger)
	sess, err := s.manager.OnConnectionOpen(ctx, deviceID, format, sink)
	if err != nil {
		s.logger.Warn("refusing connection, provider binding failed",
			zap.String("device_id", deviceID), zap.Error(err))
		sink.cancel()
		_ = conn.Close(websocket.StatusInternalError, "provider binding failed")
		return
	}

	welcome := serverMessage{
		Type:        msgHello,
		SessionID:   sess.ID,
		Transport:   "websocket",
		AudioParams: paramsFromFormat(format),
	}
	if err := sink.writeJSON(welcome); err != nil {
		s.logger.Warn("failed to send welcome", zap.Error(err))
		s.manager.OnConnectionClose(sess.ID)
		return
	}

	s.readLoop(ctx, conn, sess)
	s.manager.OnConnectionClose(sess.ID)
}

// readHello waits for the mandatory opening hello message.
func (s *Server) readHello(ctx context.Context, conn *websocket.Conn) (*clientMessage, error) {
	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	typ, data, err := conn.Read(hctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, errNotHello
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != msgHello {
		return nil, errNotHello
	}
	return &msg, nil
}

// readLoop pumps inbound messages until the connection drops. Binary
// messages are audio frames, text messages are control.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("connection read ended",
				zap.String("session_id", sess.ID), zap.Error(err))
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if err := sess.HandleFrame(data); err != nil {
				return
			}
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn("dropping malformed control message", zap.Error(err))
				continue
			}
			s.handleControl(sess, &msg)
		}

		select {
		case <-sess.Done():
			return
		default:
		}
	}
}

func (s *Server) handleControl(sess *session.Session, msg *clientMessage) {
	switch msg.Type {
	case msgAbort:
		sess.Abort()
	case msgListen:
		sess.NotifyListening()
	case msgHello:
		// Repeated hello after the handshake carries nothing new.
	default:
		s.logger.Debug("ignoring unknown control message",
			zap.String("type", msg.Type))
	}
}
