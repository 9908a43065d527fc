// Package ws is the push-subscription port: every connected client receives one
// SNAPSHOT message per tick until it disconnects. Clients may also send CONTROL
// messages on the same socket and get a CONTROL_RESULT or ERROR back.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// Hub is where observers register for the shared tick stream.
type Hub interface {
	ObserverJoin() chan<- world.ObserverJoinRequest
	ObserverLeave() chan<- string
}

// ControlFunc handles one inbound CONTROL payload and returns the reply message.
type ControlFunc func(ctx context.Context, raw []byte, requestID string) (status int, reply any)

type Server struct {
	hub     Hub
	control ControlFunc
	log     logrus.FieldLogger
	queue   int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(hub Hub, control ControlFunc, logger logrus.FieldLogger, queue int) *Server {
	if queue <= 0 {
		queue = 8
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		hub:     hub,
		control: control,
		log:     logger,
		queue:   queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, s.queue)
		select {
		case s.hub.ObserverJoin() <- world.ObserverJoinRequest{SessionID: sid, Out: out}:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.hub.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()
		log := s.log.WithFields(logrus.Fields{"session": sid, "remote": r.RemoteAddr})
		log.Info("observer connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		replies := make(chan []byte, 8)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			write := func(b []byte) error {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			for {
				var err error
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						// The world closed the stream: rejected or shutting down.
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), time.Now().Add(time.Second))
						cancel()
						writeErr <- nil
						return
					}
					err = write(b)
				case b := <-replies:
					err = write(b)
				case <-ping.C:
					err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				}
				if err != nil {
					cancel()
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: detects disconnects and accepts CONTROL messages.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			<-ctx.Done()
			// Unblock ReadMessage when the writer gives up first.
			_ = conn.SetReadDeadline(time.Now())
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			reply := s.handleMessage(ctx, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case replies <- b:
			default:
				// Drop replies under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("observer disconnected")
	}
}

func (s *Server) handleMessage(ctx context.Context, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError(protocol.ErrProtoBadRequest, "invalid json", "")
	}
	if base.Type != protocol.TypeControl {
		return protocol.NewError(protocol.ErrProtoBadRequest, fmt.Sprintf("unsupported message type %q", base.Type), "")
	}
	if s.control == nil {
		return protocol.NewError(protocol.ErrForbidden, "control disabled on this stream", "")
	}
	_, reply := s.control(ctx, msg, uuid.NewString())
	return reply
}
