package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/metrics"
	"github.com/Arnav-102/UrbanPulse/internal/persistence/indexdb"
	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
	"github.com/Arnav-102/UrbanPulse/internal/transport/control"
	"github.com/Arnav-102/UrbanPulse/internal/transport/ws"
)

const maxHistory = 500

type routes struct {
	world   *world.World
	control *control.Server
	ws      *ws.Server
	metrics *metrics.Collector
	history *indexdb.SQLiteIndex // nil when -disable_db
	admin   bool
	pprof   bool
	log     logrus.FieldLogger
}

func buildMux(rt routes) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(rw, r)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"message": "UrbanPulse Backend is running"})
	})
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-rt.world.Done():
			http.Error(rw, "world stopped", http.StatusServiceUnavailable)
		default:
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte("ok"))
		}
	})
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("/api/v1/metrics", func(rw http.ResponseWriter, r *http.Request) {
		resp := struct {
			World world.WorldMetrics `json:"world"`
			Index *indexdb.Stats     `json:"index,omitempty"`
		}{World: rt.world.Metrics()}
		if rt.history != nil {
			st := rt.history.Stats()
			resp.Index = &st
		}
		writeJSON(rw, http.StatusOK, resp)
	})

	mux.HandleFunc("/api/control", rt.control.Handler())
	mux.HandleFunc("/ws", rt.ws.Handler())
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	mux.HandleFunc("/api/v1/state", rt.handleState)
	mux.HandleFunc("/api/v1/history", rt.handleHistory)

	if rt.admin {
		mux.HandleFunc("/admin/v1/weather", loopbackOnly(rt.handleAdminWeather))
		mux.HandleFunc("/admin/v1/hour", loopbackOnly(rt.handleAdminHour))
	} else {
		rt.log.Info("admin endpoints disabled (UP_ENABLE_ADMIN_HTTP=false)")
	}
	if rt.pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (rt routes) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	v, err := rt.world.State(ctx)
	if err != nil {
		status, code := worldErrorStatus(err)
		writeJSON(rw, status, protocol.NewError(code, err.Error(), ""))
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (rt routes) handleHistory(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if rt.history == nil {
		writeJSON(rw, http.StatusNotFound, protocol.NewError(protocol.ErrBadRequest, "history index disabled", ""))
		return
	}
	limit := 50
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, "limit must be a positive integer", ""))
			return
		}
		limit = min(n, maxHistory)
	}
	rows, err := rt.history.Recent(r.Context(), limit)
	if err != nil {
		rt.log.WithError(err).Error("history query")
		writeJSON(rw, http.StatusInternalServerError, protocol.NewError(protocol.ErrInternal, "history unavailable", ""))
		return
	}
	if rows == nil {
		rows = []indexdb.SnapshotRow{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"snapshots": rows})
}

func (rt routes) handleAdminWeather(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Weather string `json:"weather"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, "bad json", ""))
		return
	}
	weather, err := city.ParseWeather(body.Weather)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, err.Error(), ""))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.world.SetWeather(ctx, weather); err != nil {
		status, code := worldErrorStatus(err)
		writeJSON(rw, status, protocol.NewError(code, err.Error(), ""))
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "weather": weather})
}

func (rt routes) handleAdminHour(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Hour *float64 `json:"hour"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&body); err != nil || body.Hour == nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, "expected {\"hour\": <0..24)}", ""))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.world.SetHour(ctx, *body.Hour); err != nil {
		status, code := worldErrorStatus(err)
		writeJSON(rw, status, protocol.NewError(code, err.Error(), ""))
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "hour": *body.Hour})
}

func worldErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, world.ErrBusy):
		return http.StatusServiceUnavailable, protocol.ErrWorldBusy
	case errors.Is(err, world.ErrStopped):
		return http.StatusServiceUnavailable, protocol.ErrWorldStopped
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, protocol.ErrTimeout
	case errors.Is(err, city.ErrInvalidClock), errors.Is(err, city.ErrUnknownWeather):
		return http.StatusBadRequest, protocol.ErrBadRequest
	default:
		return http.StatusInternalServerError, protocol.ErrInternal
	}
}

func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			writeJSON(rw, http.StatusForbidden, protocol.NewError(protocol.ErrForbidden, "forbidden", ""))
			return
		}
		next(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// withCORS allows every origin; the dashboard is served from elsewhere.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h := rw.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
