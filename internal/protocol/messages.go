package protocol

import (
	"fmt"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

// SNAPSHOT (server -> observer). The snapshot fields are inlined so the payload
// stays flat: timestamp, simulated_hour, city_health_score, weather, districts.
type SnapshotMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	city.Snapshot
}

func NewSnapshotMsg(s city.Snapshot) SnapshotMsg {
	return SnapshotMsg{Type: TypeSnapshot, ProtocolVersion: Version, Snapshot: s}
}

// CONTROL (client -> server). Type and version are optional on the wire.
type ControlRequest struct {
	Type            string `json:"type,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	District        string `json:"district"`
	Action          string `json:"action"`
}

// CONTROL_RESULT (server -> client)
type ControlResponse struct {
	Type          string  `json:"type,omitempty"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	RequestID     string  `json:"request_id,omitempty"`
	ExpiresAtHour float64 `json:"expires_at_hour"`
}

const StatusSuccess = "success"

func NewControlResponse(requestID, district, action string, expires float64) ControlResponse {
	return ControlResponse{
		Type:          TypeControlResult,
		Status:        StatusSuccess,
		Message:       fmt.Sprintf("%s applied to %s", action, district),
		RequestID:     requestID,
		ExpiresAtHour: expires,
	}
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func NewError(code, message, requestID string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Status: "error", Code: code, Message: message, RequestID: requestID}
}
