package session

import "time"

// Sender identifies who wrote a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// NameLayout is the format of a session's default name
const NameLayout = "2006-01-02 15:04:05"

// Message represents a single chat message
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents a chat session bound to one model
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// DisplayName returns the session name, or its creation time when unnamed
func (s Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.CreatedAt.Local().Format(NameLayout)
}

// ModelConfig is a named backend configuration messages are sent to
type ModelConfig struct {
	ModelName    string `json:"model_name"`
	SystemPrompt string `json:"system_prompt"`
}

// DefaultName returns the name given to a session created at t
func DefaultName(t time.Time) string {
	return t.UTC().Format(NameLayout)
}

// ModelGroup holds the sessions of one model
type ModelGroup struct {
	Model    string
	Sessions []Session
}

// GroupByModel groups sessions by model. Groups appear in the order their model
// is first seen and sessions keep their input order.
func GroupByModel(sessions []Session) []ModelGroup {
	var groups []ModelGroup
	index := make(map[string]int)
	for _, s := range sessions {
		i, ok := index[s.Model]
		if !ok {
			i = len(groups)
			index[s.Model] = i
			groups = append(groups, ModelGroup{Model: s.Model})
		}
		groups[i].Sessions = append(groups[i].Sessions, s)
	}
	return groups
}
