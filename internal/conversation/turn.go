// Package conversation holds the size-bounded, persisted transcript of a
// single chat: an append-only sequence of role-tagged turns.
package conversation

import "fmt"

// Role identifies the sender of a turn.
type Role string

// Role constants for conversation turns.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Turn is one message of the conversation. Turns are values; once appended
// to a Store they are never modified.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn returns a turn authored by the user.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn returns a turn authored by the assistant.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// SystemTurn returns a system instruction turn.
func SystemTurn(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

func (t Turn) validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
	}
	return nil
}
