package model

import (
	"fmt"
	"strings"
)

type ConversationKind string

const (
	ConversationTeam   ConversationKind = "team"
	ConversationDirect ConversationKind = "dm"
)

// Conversation addresses either a team chat (ID = team id) or a direct
// conversation (ID = the peer's user id).
type Conversation struct {
	Kind ConversationKind `json:"kind"`
	ID   ID               `json:"id"`
}

func Team(id ID) Conversation     { return Conversation{Kind: ConversationTeam, ID: id} }
func Direct(peer ID) Conversation { return Conversation{Kind: ConversationDirect, ID: peer} }

// Key is the storage key of the conversation: "team-7", "dm-42".
func (c Conversation) Key() string {
	return string(c.Kind) + "-" + string(c.ID)
}

func (c Conversation) IsZero() bool { return c.ID == "" }

func (c Conversation) String() string { return c.Key() }

// ParseConversation is the inverse of Key.
func ParseConversation(key string) (Conversation, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(key), "-")
	if !ok || id == "" {
		return Conversation{}, fmt.Errorf("invalid conversation key %q", key)
	}
	switch ConversationKind(kind) {
	case ConversationTeam, ConversationDirect:
		return Conversation{Kind: ConversationKind(kind), ID: ID(id)}, nil
	default:
		return Conversation{}, fmt.Errorf("invalid conversation kind %q", kind)
	}
}

// Contains reports whether a confirmed message belongs to the conversation as
// seen by user self.
func (c Conversation) Contains(m *Message, self ID) bool {
	switch c.Kind {
	case ConversationTeam:
		return m.TeamID == c.ID
	case ConversationDirect:
		if m.TeamID != "" {
			return false
		}
		return (m.SenderID == c.ID && m.RecipientID == self) ||
			(m.SenderID == self && m.RecipientID == c.ID)
	}
	return false
}
