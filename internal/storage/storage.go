package storage

import "github.com/xboty/ticketbot/internal/models"

// Storage persists everything that must survive a restart: the ordered
// conversation log per channel, the active/paused channel sets, ticket
// statuses, the admin audit log and attachment files. Loads of missing
// or corrupt state yield empty defaults rather than errors wherever the
// caller can keep going with in-memory state.
type Storage interface {
	LoadConversation(channelID int64) ([]models.Turn, error)
	SaveConversation(channelID int64, turns []models.Turn) error
	ClearConversation(channelID int64) error
	ListConversations() ([]int64, error)

	LoadActiveChannels() ([]int64, error)
	SaveActiveChannels(ids []int64) error
	LoadPausedChannels() ([]int64, error)
	SavePausedChannels(ids []int64) error

	LoadStatuses() (map[string]models.TicketStatus, error)
	SetStatus(ticketID string, status models.TicketStatus) error

	AppendAdminLog(entry models.AdminLogEntry) error
	LoadAdminLogs() ([]models.AdminLogEntry, error)

	// SaveAttachment stores the bytes under the channel's attachment
	// directory and returns the relative URL the dashboard serves it at.
	SaveAttachment(channelID int64, filename string, data []byte) (string, error)
	ListAttachments(channelID int64) ([]models.AttachmentRef, error)

	Close() error
}
