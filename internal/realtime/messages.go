package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeNewGuesses         MessageType = "new_guesses"
	TypeOldGuesses         MessageType = "old_guesses"
	TypeSolved             MessageType = "solved"
	TypeUnsolved           MessageType = "unsolved"
	TypeNewUnlock          MessageType = "new_unlock"
	TypeOldUnlock          MessageType = "old_unlock"
	TypeChangeUnlock       MessageType = "change_unlock"
	TypeDeleteUnlockGuess  MessageType = "delete_unlockguess"
	TypeNewHint            MessageType = "new_hint"
	TypeOldHint            MessageType = "old_hint"
	TypeDeleteHint         MessageType = "delete_hint"
	TypeAnnouncement       MessageType = "announcement"
	TypeDeleteAnnouncement MessageType = "delete_announcement"
	TypeError              MessageType = "error"

	// Control messages are consumed by sessions and never reach a client.
	TypeScheduleHint MessageType = "schedule_hint"
	TypeHintChanged  MessageType = "hint_changed"
	TypeHintRemoved  MessageType = "hint_removed"
)

// IsControl reports whether messages of this type stay on the server.
func (t MessageType) IsControl() bool {
	switch t {
	case TypeScheduleHint, TypeHintChanged, TypeHintRemoved:
		return true
	}
	return false
}

// Message is one item published to a group.
type Message struct {
	Group   string          `json:"group"`
	Type    MessageType     `json:"type"`
	Content json.RawMessage `json:"content"`
}

func NewMessage(group string, typ MessageType, content any) (Message, error) {
	if content == nil {
		content = struct{}{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s content: %w", typ, err)
	}
	return Message{Group: group, Type: typ, Content: raw}, nil
}

// Decode unmarshals the content into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", m.Type, err)
	}
	return nil
}

// Envelope is the frame written to clients.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Content json.RawMessage `json:"content"`
}

func (m Message) Envelope() Envelope {
	content := m.Content
	if len(content) == 0 {
		content = json.RawMessage("{}")
	}
	return Envelope{Type: m.Type, Content: content}
}

type GuessContent struct {
	Guess    string `json:"guess"`
	GuessUID string `json:"guess_uid"`
	// Correct is null while the guess could not be evaluated.
	Correct   *bool  `json:"correct"`
	By        string `json:"by"`
	Timestamp string `json:"timestamp"`
}

type SolvedContent struct {
	Time     float64 `json:"time"`
	Guess    string  `json:"guess"`
	By       string  `json:"by"`
	Text     string  `json:"text"`
	Redirect string  `json:"redirect"`
}

type UnlockContent struct {
	Unlock    string `json:"unlock"`
	UnlockUID string `json:"unlock_uid"`
	Guess     string `json:"guess"`
	GuessUID  string `json:"guess_uid"`
}

type ChangeUnlockContent struct {
	Unlock    string `json:"unlock"`
	UnlockUID string `json:"unlock_uid"`
}

type DeleteUnlockGuessContent struct {
	UnlockUID string `json:"unlock_uid"`
	Guess     string `json:"guess"`
	GuessUID  string `json:"guess_uid"`
}

type HintContent struct {
	Hint               string  `json:"hint"`
	HintUID            string  `json:"hint_uid"`
	Time               string  `json:"time"`
	DependsOnUnlockUID *string `json:"depends_on_unlock_uid"`
}

type DeleteHintContent struct {
	HintUID            string  `json:"hint_uid"`
	DependsOnUnlockUID *string `json:"depends_on_unlock_uid"`
}

type AnnouncementContent struct {
	AnnouncementID string `json:"announcement_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Variant        string `json:"variant"`
}

type DeleteAnnouncementContent struct {
	AnnouncementID string `json:"announcement_id"`
}

type ErrorContent struct {
	Error string `json:"error"`
}

// HintControl is the content of every control message.
type HintControl struct {
	HintID      uuid.UUID `json:"hint_id"`
	SendExpired bool      `json:"send_expired,omitempty"`
}

// ErrorMessage builds the error frame sent in reply to a bad request.
func ErrorMessage(text string) Message {
	raw, _ := json.Marshal(ErrorContent{Error: text})
	return Message{Type: TypeError, Content: raw}
}
