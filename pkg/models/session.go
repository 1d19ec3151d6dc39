package models

import "time"

// Response is the generic reply of lifecycle endpoints
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// StatusResponse is the reply of GET /session/status/{sessionId}
type StatusResponse struct {
	Success   bool       `json:"success"`
	State     *string    `json:"state"`
	Message   string     `json:"message"`
	LastError string     `json:"lastError,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// QRResponse is the reply of GET /session/qr/{sessionId}
type QRResponse struct {
	Success bool   `json:"success"`
	QR      string `json:"qr,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionsResponse lists the registered sessions
type SessionsResponse struct {
	Success  bool     `json:"success"`
	Sessions []string `json:"sessions"`
}
