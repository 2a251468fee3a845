package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xboty/ticketbot/internal/models"
)

// MemoryStorage is the in-process Storage used by tests and by local
// runs that don't need durability.
type MemoryStorage struct {
	mu            sync.RWMutex
	conversations map[int64][]models.Turn
	active        []int64
	paused        []int64
	statuses      map[string]models.TicketStatus
	adminLogs     []models.AdminLogEntry
	attachments   map[int64][]models.AttachmentRef
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[int64][]models.Turn),
		statuses:      make(map[string]models.TicketStatus),
		attachments:   make(map[int64][]models.AttachmentRef),
	}
}

func (s *MemoryStorage) LoadConversation(channelID int64) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]models.Turn, len(s.conversations[channelID]))
	copy(turns, s.conversations[channelID])
	return turns, nil
}

func (s *MemoryStorage) SaveConversation(channelID int64, turns []models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]models.Turn, len(turns))
	copy(saved, turns)
	s.conversations[channelID] = saved
	return nil
}

func (s *MemoryStorage) ClearConversation(channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, channelID)
	delete(s.attachments, channelID)
	return nil
}

func (s *MemoryStorage) ListConversations() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStorage) LoadActiveChannels() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.active...), nil
}

func (s *MemoryStorage) SaveActiveChannels(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = append([]int64(nil), ids...)
	return nil
}

func (s *MemoryStorage) LoadPausedChannels() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.paused...), nil
}

func (s *MemoryStorage) SavePausedChannels(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = append([]int64(nil), ids...)
	return nil
}

func (s *MemoryStorage) LoadStatuses() (map[string]models.TicketStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]models.TicketStatus, len(s.statuses))
	for k, v := range s.statuses {
		statuses[k] = v
	}
	return statuses, nil
}

func (s *MemoryStorage) SetStatus(ticketID string, status models.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[ticketID] = status
	return nil
}

func (s *MemoryStorage) AppendAdminLog(entry models.AdminLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminLogs = append([]models.AdminLogEntry{entry}, s.adminLogs...)
	return nil
}

func (s *MemoryStorage) LoadAdminLogs() ([]models.AdminLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AdminLogEntry(nil), s.adminLogs...), nil
}

func (s *MemoryStorage) SaveAttachment(channelID int64, filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := fmt.Sprintf("/attachments/%d/%s", channelID, filename)
	s.attachments[channelID] = append(s.attachments[channelID], models.AttachmentRef{
		Filename:    filename,
		StoragePath: path,
	})
	return path, nil
}

func (s *MemoryStorage) ListAttachments(channelID int64) ([]models.AttachmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AttachmentRef(nil), s.attachments[channelID]...), nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
