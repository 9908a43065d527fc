package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

type fakeWorld struct {
	calls []string
	err   error
}

func (f *fakeWorld) RequestControl(_ context.Context, requestID, district string, action city.Kind) (world.ControlResult, error) {
	if f.err != nil {
		return world.ControlResult{}, f.err
	}
	f.calls = append(f.calls, district+"/"+string(action))
	return world.ControlResult{
		District:     district,
		Action:       action,
		Intervention: city.Intervention{District: district, Kind: action, ExpiresAtHour: 12},
	}, nil
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/control", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Success(t *testing.T) {
	fw := &fakeWorld{}
	h := NewServer(fw, nil, Options{}).Handler()
	rec := post(t, h, `{"district":"Downtown","action":"OPTIMIZE_TRAFFIC"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp protocol.ControlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "success" || resp.Message != "OPTIMIZE_TRAFFIC applied to Downtown" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.RequestID == "" || rec.Header().Get("X-Request-ID") != resp.RequestID {
		t.Fatalf("request id not propagated: %+v", resp)
	}
	if len(fw.calls) != 1 || fw.calls[0] != "Downtown/OPTIMIZE_TRAFFIC" {
		t.Fatalf("calls=%v", fw.calls)
	}
}

func TestHandler_UnknownActionAccepted(t *testing.T) {
	fw := &fakeWorld{}
	rec := post(t, NewServer(fw, nil, Options{}).Handler(), `{"district":"Atlantis","action":"CLOSE_ROADS"}`)
	if rec.Code != http.StatusOK || len(fw.calls) != 1 {
		t.Fatalf("status=%d calls=%v", rec.Code, fw.calls)
	}
}

func TestHandler_MalformedDoesNotReachWorld(t *testing.T) {
	fw := &fakeWorld{}
	h := NewServer(fw, nil, Options{}).Handler()
	for _, body := range []string{``, `{`, `{"district":"Downtown"}`, `{"district":3,"action":"X"}`} {
		rec := post(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, rec.Code)
		}
		var e protocol.ErrorMsg
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Code != protocol.ErrBadRequest || e.Status != "error" {
			t.Fatalf("body %q: error=%+v (%v)", body, e, err)
		}
	}
	if len(fw.calls) != 0 {
		t.Fatalf("malformed payloads reached the world: %v", fw.calls)
	}
}

func TestHandler_MethodAndSize(t *testing.T) {
	h := NewServer(&fakeWorld{}, nil, Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/control", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d", rec.Code)
	}
	big := `{"district":"` + strings.Repeat("a", maxBodyBytes) + `","action":"X"}`
	if rec := post(t, h, big); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status=%d", rec.Code)
	}
}

func TestHandler_BusyAndStopped(t *testing.T) {
	for err, want := range map[error]string{world.ErrBusy: protocol.ErrWorldBusy, world.ErrStopped: protocol.ErrWorldStopped} {
		h := NewServer(&fakeWorld{err: err}, nil, Options{}).Handler()
		rec := post(t, h, `{"district":"Downtown","action":"OPTIMIZE_TRAFFIC"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%v: status=%d", err, rec.Code)
		}
		var e protocol.ErrorMsg
		_ = json.Unmarshal(rec.Body.Bytes(), &e)
		if e.Code != want || !protocol.IsKnownCode(e.Code) {
			t.Fatalf("%v: code=%q", err, e.Code)
		}
	}
}

func TestHandler_RateLimit(t *testing.T) {
	fw := &fakeWorld{}
	h := NewServer(fw, nil, Options{PerSecond: 0.001, Burst: 2}).Handler()
	body := `{"district":"Downtown","action":"OPTIMIZE_TRAFFIC"}`
	for i := 0; i < 2; i++ {
		if rec := post(t, h, body); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status=%d", i, rec.Code)
		}
	}
	rec := post(t, h, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rec.Code)
	}
	if len(fw.calls) != 2 {
		t.Fatalf("rate-limited request reached the world")
	}
}
