// Domain model for debate sessions.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant count bounds for a debate.
const (
	MinPersonas = 2
	MaxPersonas = 4
)

// PersonaInput is the raw user-provided description a persona is generated from.
type PersonaInput struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Age         string `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Profession  string `json:"profession,omitempty"`
	Country     string `json:"country,omitempty"`
	Goals       string `json:"goals,omitempty"`
	Perspective string `json:"perspective,omitempty"`
}

// Persona is a generated debate participant. Immutable once generated; Name is
// the unique key within a session.
type Persona struct {
	UserInput       PersonaInput `json:"userInput"`
	Name            string       `json:"name"`
	Title           string       `json:"title"`
	Summary         string       `json:"summary"`
	FullDescription string       `json:"full_description"`
}

// ChatMessage is one utterance. Message is mutable while the turn is
// streaming and immutable once the turn is finalized.
type ChatMessage struct {
	PersonaName string `json:"personaName"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"` // Unix ms
}

// ActionItem holds the per-persona suggestions of a conclusion.
type ActionItem struct {
	PersonaName string   `json:"personaName"`
	Suggestions []string `json:"suggestions"`
}

// Conclusion is the structured synthesis of a finished debate. Immutable once
// produced.
type Conclusion struct {
	Summary           []string     `json:"summary"`
	AgreementPoints   []string     `json:"agreement_points"`
	ConflictPoints    []string     `json:"conflict_points"`
	BridgingQuestions []string     `json:"bridging_questions"`
	Conclusion        string       `json:"conclusion"`
	ActionItems       []ActionItem `json:"action_items"`
}

// Personas is stored as a JSON column.
type Personas []Persona

// ChatLog is the ordered transcript, stored as a JSON column.
type ChatLog []ChatMessage

// DebateSession is the aggregate root persisted after a debate concludes.
// Conclusion is nil when the debate ended with zero turns or synthesis failed.
type DebateSession struct {
	ID         string      `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt  time.Time   `json:"createdAt" gorm:"index"`
	Topic      string      `json:"topic" gorm:"type:text;not null"`
	Title      string      `json:"title" gorm:"size:200"`
	Personas   Personas    `json:"personas" gorm:"type:text"`
	ChatLog    ChatLog     `json:"chatLog" gorm:"type:text"`
	Conclusion *Conclusion `json:"conclusion" gorm:"type:text"`
}

func (DebateSession) TableName() string {
	return "debate_sessions"
}

// NewSessionID returns a time-based session id. The uuid suffix keeps ids
// unique when two sessions finish within the same millisecond.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Validate checks the aggregate invariants before persistence.
func (s *DebateSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if n := len(s.Personas); n < MinPersonas || n > MaxPersonas {
		return fmt.Errorf("session has %d personas, want %d-%d", n, MinPersonas, MaxPersonas)
	}
	seen := make(map[string]bool, len(s.Personas))
	for _, p := range s.Personas {
		if p.Name == "" {
			return fmt.Errorf("persona with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate persona name %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, m := range s.ChatLog {
		if !seen[m.PersonaName] {
			return fmt.Errorf("message from unknown persona %q", m.PersonaName)
		}
	}
	return nil
}

// PersonaIndex returns the position of the named persona in the ordered list,
// or 0 if unknown. Used as the narration voice index.
func (s *DebateSession) PersonaIndex(name string) int {
	for i, p := range s.Personas {
		if p.Name == name {
			return i
		}
	}
	return 0
}

// Value implements driver.Valuer for database storage
func (p Personas) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database retrieval
func (p *Personas) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// Value implements driver.Valuer for database storage
func (l ChatLog) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *ChatLog) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// Value implements driver.Valuer for database storage
func (c *Conclusion) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for database retrieval
func (c *Conclusion) Scan(value interface{}) error {
	return scanJSON(value, c)
}

func scanJSON(value interface{}, dst any) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return nil
	}
}
