package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Role identifies the author side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Flow is the detected support category of a ticket. Once a flow is set
// on a ticket it never reverts to FlowNone.
type Flow string

const (
	FlowNone          Flow = ""
	FlowBonusClaim    Flow = "bonus-claim"
	FlowDepositClaim  Flow = "deposit-claim"
	FlowGiveawayClaim Flow = "giveaway-claim"
)

// TicketStatus is the dashboard-visible lifecycle state of a ticket.
type TicketStatus string

const (
	StatusOpen   TicketStatus = "OPEN"
	StatusClosed TicketStatus = "CLOSED"
)

// AttachmentRef points at a stored attachment file.
type AttachmentRef struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path"`
}

// Turn is a single entry of a ticket conversation.
type Turn struct {
	Role        Role            `json:"role"`
	Text        string          `json:"text"`
	Author      string          `json:"author,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// UnmarshalJSON normalizes legacy conversation entries. Older files may
// contain bare strings, or objects carrying "content" instead of
// "text"; those decode to a user turn with the stringified content.
func (t *Turn) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role        Role            `json:"role"`
		Text        string          `json:"text"`
		Content     json.RawMessage `json:"content"`
		Author      string          `json:"author"`
		Attachments []AttachmentRef `json:"attachments"`
	}

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			s = string(data)
		}
		*t = Turn{Role: RoleUser, Text: s}
		return nil
	}

	text := a.Text
	if text == "" && len(a.Content) > 0 {
		var s string
		if err := json.Unmarshal(a.Content, &s); err != nil {
			s = string(a.Content)
		}
		text = s
	}

	role := a.Role
	if role != RoleUser && role != RoleAssistant {
		role = RoleUser
	}

	*t = Turn{Role: role, Text: text, Author: a.Author, Attachments: a.Attachments}
	return nil
}

// TicketState holds the per-channel facts accumulated by the state
// machine. It is a cache over the conversation log: after a restart it
// is rebuilt by folding the persisted turns.
type TicketState struct {
	ChannelID              int64
	Flow                   Flow
	Username               string
	AttachmentsTotal       int
	Escalated              bool
	AskedFirstEverQuestion bool
	CodeMentioned          bool
	LastAssistantMessage   string
	Renamed                bool
}

// IncomingAttachment carries the bytes of a file attached to an inbound
// message, already fetched by the transport adapter.
type IncomingAttachment struct {
	Filename string
	Data     []byte
}

// Inbound is a platform-neutral incoming chat message.
type Inbound struct {
	ChannelID   int64
	AuthorID    string
	AuthorName  string
	Text        string
	Attachments []IncomingAttachment
	IsBot       bool
}

// AdminLogEntry is one audit record of a dashboard admin action.
type AdminLogEntry struct {
	Admin    string    `json:"admin"`
	Action   string    `json:"action"`
	TicketID string    `json:"ticket_id"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// GuildMap describes one guild's layout for the dashboard: category
// names plus channel and role name→id maps.
type GuildMap struct {
	GuildName  string            `json:"guild_name"`
	GuildID    string            `json:"guild_id"`
	Categories []string          `json:"categories"`
	Channels   map[string]string `json:"channels"`
	Roles      map[string]string `json:"roles"`
}

// TicketSummary is the dashboard listing shape for one ticket.
type TicketSummary struct {
	TicketID    string          `json:"ticket_id"`
	Status      TicketStatus    `json:"status"`
	Messages    []Turn          `json:"messages"`
	Attachments []AttachmentRef `json:"attachments"`
	Count       int             `json:"count"`
	LastMessage string          `json:"last_message"`
}

func (f Flow) String() string {
	if f == FlowNone {
		return "none"
	}
	return string(f)
}

// ChannelKey renders a channel id the way the status map and attachment
// directories key it.
func ChannelKey(channelID int64) string {
	return strconv.FormatInt(channelID, 10)
}
