package api

import "time"

// Paths of the chat API
const (
	PathGetModelConfig    = "/api/get_model_config"
	PathSetModelConfig    = "/api/set_model_config"
	PathCreateChatSession = "/api/create_chat_session"
	PathGetAllSessions    = "/api/get_all_sessions"
	PathGetLatestSession  = "/api/get_latest_session"
	PathEditSessionName   = "/api/edit_session_name"
	PathDeleteSession     = "/api/delete_session"
	PathGetChatHistory    = "/api/get_chat_history"
	PathSendMessage       = "/api/send_message"
	PathEditMessage       = "/api/edit_message"
	PathDeleteMessage     = "/api/delete_message"
	PathEvents            = "/api/events"
)

// ErrorResponse is the body of every failed call
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse acknowledges a mutation
type SuccessResponse struct {
	Success bool `json:"success"`
}

type SetModelConfigRequest struct {
	ModelName    string `json:"model_name,omitempty"`
	SystemPrompt string `json:"system_prompt"`
}

type SetModelConfigResponse struct {
	Success   bool   `json:"success"`
	ModelName string `json:"model_name"`
}

type CreateSessionRequest struct {
	Model string `json:"model"`
}

type EditSessionNameRequest struct {
	SessionID string `json:"session_id"`
	NewName   string `json:"new_name"`
}

type EditSessionNameResponse struct {
	Success bool   `json:"success"`
	NewName string `json:"new_name"`
}

type DeleteSessionRequest struct {
	SessionID string `json:"session_id"`
}

type SendMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// SendMessageResponse carries the ids the server assigned to both new messages
type SendMessageResponse struct {
	UserMsgID     int64     `json:"user_msg_id"`
	ModelMsgID    int64     `json:"model_msg_id"`
	ModelResponse string    `json:"model_response"`
	Timestamp     time.Time `json:"timestamp"`
	UserTimestamp time.Time `json:"user_timestamp"`
}

type EditMessageRequest struct {
	SessionID  string `json:"session_id"`
	MessageID  int64  `json:"message_id"`
	NewContent string `json:"new_content"`
}

type EditMessageResponse struct {
	Success       bool      `json:"success"`
	UserMsgID     int64     `json:"user_msg_id"`
	ModelMsgID    int64     `json:"model_msg_id"`
	ModelResponse string    `json:"model_response"`
	Timestamp     time.Time `json:"timestamp"`
}

type DeleteMessageRequest struct {
	SessionID string `json:"session_id"`
	MessageID int64  `json:"message_id"`
}
