package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries a batch progress snapshot
type WSProgressMessage struct {
	Type     string        `json:"type"`
	BatchID  string        `json:"batchId"`
	Phase    Phase         `json:"phase"`
	Progress BatchProgress `json:"progress"`
	UnitID   string        `json:"unitId,omitempty"`
}

// WSCompleteMessage is sent once done+failed reaches total
type WSCompleteMessage struct {
	Type     string        `json:"type"`
	BatchID  string        `json:"batchId"`
	Phase    Phase         `json:"phase"`
	Progress BatchProgress `json:"progress"`
}

// WSErrorMessage reports a failed unit
type WSErrorMessage struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batchId"`
	UnitID  string  `json:"unitId,omitempty"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
