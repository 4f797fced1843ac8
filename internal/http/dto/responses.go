package dto

type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse carries a human-readable message plus the normalized failure
// kind so clients can react programmatically (e.g. prompt to top up on
// insufficient-funds).
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ModeResponse struct {
	Live bool `json:"live"`
}
