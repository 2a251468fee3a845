package ticket

import (
	"strings"
	"sync"

	"github.com/xboty/ticketbot/internal/classifier"
	"github.com/xboty/ticketbot/internal/models"
)

// StateStore holds the per-channel ticket facts. The machine only
// mutates a state while holding that channel's lock, so the store needs
// to guard the map, not the entries.
type StateStore interface {
	Get(channelID int64) (*models.TicketState, bool)
	Put(state *models.TicketState)
	Delete(channelID int64)
}

type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[int64]*models.TicketState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[int64]*models.TicketState)}
}

func (s *MemoryStateStore) Get(channelID int64) (*models.TicketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[channelID]
	return st, ok
}

func (s *MemoryStateStore) Put(state *models.TicketState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ChannelID] = state
}

func (s *MemoryStateStore) Delete(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, channelID)
}

// foldConversation rebuilds ticket facts from a persisted conversation
// log. Run after a restart, when the in-memory state cache is gone but
// the log survived. The fold applies the same sticky/monotonic rules
// the live machine does, so replaying the log lands on the same state.
func foldConversation(state *models.TicketState, turns []models.Turn) {
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleUser:
			// Attachment turns only bump the counter; the live intake
			// branch never runs text fact extraction on them.
			if len(turn.Attachments) > 0 {
				state.AttachmentsTotal += len(turn.Attachments)
				continue
			}
			if u := classifier.ExtractUsername(turn.Text); u != "" {
				state.Username = u
			}
			if category := classifier.DetectCategory(turn.Text); category != models.FlowNone {
				state.Renamed = true
				if state.Flow == models.FlowNone {
					state.Flow = category
				}
			}
			if classifier.MentionsCode(turn.Text) {
				state.CodeMentioned = true
			}
		case models.RoleAssistant:
			state.LastAssistantMessage = turn.Text
			if strings.Contains(turn.Text, firstEverMarker) {
				state.AskedFirstEverQuestion = true
			}
			if strings.Contains(turn.Text, escalationMarker) {
				state.Escalated = true
			}
		}
	}
}
