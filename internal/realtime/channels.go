package realtime

import (
	"strings"

	"github.com/chatsync/internal/model"
)

const (
	teamPrefix = "chat.team."
	dmPrefix   = "chat.dm."
	userPrefix = "user."
)

func TeamChannel(teamID model.ID) string { return teamPrefix + string(teamID) }

// DirectChannel is the same for both participants: the lower id comes first.
func DirectChannel(a, b model.ID) string {
	if b.Less(a) {
		a, b = b, a
	}
	return dmPrefix + string(a) + "." + string(b)
}

// UserChannel is the private per-user channel carrying read receipts.
func UserChannel(userID model.ID) string { return userPrefix + string(userID) }

// ConversationChannel returns the channel of conv as seen by user self.
func ConversationChannel(conv model.Conversation, self model.ID) string {
	if conv.Kind == model.ConversationTeam {
		return TeamChannel(conv.ID)
	}
	return DirectChannel(self, conv.ID)
}

// ChannelInfo is a parsed channel name. Members holds the dm participants
// or the owner of a user channel.
type ChannelInfo struct {
	Kind    string // team, dm, user
	TeamID  model.ID
	Members []model.ID
}

// Private reports whether only Members may subscribe.
func (c ChannelInfo) Private() bool { return c.Kind != "team" }

// Allows reports whether user may subscribe to the channel.
func (c ChannelInfo) Allows(user model.ID) bool {
	if !c.Private() {
		return true
	}
	for _, m := range c.Members {
		if m == user {
			return true
		}
	}
	return false
}

func ParseChannel(name string) (ChannelInfo, bool) {
	switch {
	case strings.HasPrefix(name, teamPrefix):
		id := strings.TrimPrefix(name, teamPrefix)
		if id == "" {
			return ChannelInfo{}, false
		}
		return ChannelInfo{Kind: "team", TeamID: model.ID(id)}, true
	case strings.HasPrefix(name, dmPrefix):
		a, b, ok := strings.Cut(strings.TrimPrefix(name, dmPrefix), ".")
		if !ok || a == "" || b == "" || strings.Contains(b, ".") {
			return ChannelInfo{}, false
		}
		return ChannelInfo{Kind: "dm", Members: []model.ID{model.ID(a), model.ID(b)}}, true
	case strings.HasPrefix(name, userPrefix):
		id := strings.TrimPrefix(name, userPrefix)
		if id == "" {
			return ChannelInfo{}, false
		}
		return ChannelInfo{Kind: "user", Members: []model.ID{model.ID(id)}}, true
	}
	return ChannelInfo{}, false
}
