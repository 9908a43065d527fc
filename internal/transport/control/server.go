// Package control is the request/response port for control commands.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

const maxBodyBytes = 16 * 1024

// Applier is the slice of the world the control port needs.
type Applier interface {
	RequestControl(ctx context.Context, requestID, district string, action city.Kind) (world.ControlResult, error)
}

// RejectRecorder counts refused commands by protocol error code.
type RejectRecorder interface {
	ControlRejected(code string)
}

type Options struct {
	PerSecond float64
	Burst     int
	Timeout   time.Duration
	Recorder  RejectRecorder
}

type Server struct {
	world    Applier
	log      logrus.FieldLogger
	limiter  *remoteLimiter
	timeout  time.Duration
	recorder RejectRecorder
}

func NewServer(w Applier, logger logrus.FieldLogger, opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		world:    w,
		log:      logger,
		limiter:  newRemoteLimiter(opts.PerSecond, opts.Burst),
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
	}
}

// Handler serves POST /api/control.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw.Header().Set("X-Request-ID", requestID)

		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, s.reject(protocol.ErrBadRequest, "method not allowed", requestID))
			return
		}
		if !s.limiter.Allow(remoteKey(r)) {
			s.log.WithFields(logrus.Fields{"remote": remoteKey(r), "request_id": requestID}).Warn("control rate limited")
			writeJSON(rw, http.StatusTooManyRequests, s.reject(protocol.ErrRateLimit, "too many control commands", requestID))
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, s.reject(protocol.ErrProtoBadRequest, "read body", requestID))
			return
		}
		if len(raw) > maxBodyBytes {
			writeJSON(rw, http.StatusRequestEntityTooLarge, s.reject(protocol.ErrProtoBadRequest, "body too large", requestID))
			return
		}
		status, body := s.Apply(r.Context(), raw, requestID)
		writeJSON(rw, status, body)
	}
}

// Apply validates raw, forwards it to the world and returns the HTTP status and
// the response message. Invalid payloads never reach the world.
func (s *Server) Apply(ctx context.Context, raw []byte, requestID string) (int, any) {
	req, err := protocol.ValidateControl(raw)
	if err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Info("control rejected")
		return http.StatusBadRequest, s.reject(protocol.ErrBadRequest, err.Error(), requestID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.world.RequestControl(ctx, requestID, req.District, city.Kind(req.Action))
	if err != nil {
		status, code := errorStatus(err)
		s.log.WithError(err).WithFields(logrus.Fields{"request_id": requestID, "district": req.District, "action": req.Action}).Warn("control failed")
		return status, s.reject(code, err.Error(), requestID)
	}
	return http.StatusOK, protocol.NewControlResponse(requestID, res.District, string(res.Action), res.Intervention.ExpiresAtHour)
}

func (s *Server) reject(code, message, requestID string) protocol.ErrorMsg {
	if s.recorder != nil {
		s.recorder.ControlRejected(code)
	}
	return protocol.NewError(code, message, requestID)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, world.ErrBusy):
		return http.StatusServiceUnavailable, protocol.ErrWorldBusy
	case errors.Is(err, world.ErrStopped):
		return http.StatusServiceUnavailable, protocol.ErrWorldStopped
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, protocol.ErrTimeout
	default:
		return http.StatusInternalServerError, protocol.ErrInternal
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
