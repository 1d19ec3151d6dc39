package models

// GetClassInfoRequest is the payload of POST /message/getClassInfo/{sessionId}
type GetClassInfoRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// MessageResponse wraps a resolved message
type MessageResponse struct {
	Success bool `json:"success"`
	Message any  `json:"message"`
}

// CallbackPayload is what the local callback example receives
type CallbackPayload struct {
	DataType  string         `json:"dataType"`
	Data      map[string]any `json:"data,omitempty"`
	SessionID string         `json:"sessionId"`
}
