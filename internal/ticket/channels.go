package ticket

import (
	"sort"
	"sync"

	"github.com/xboty/ticketbot/internal/storage"
	"go.uber.org/zap"
)

// ChannelSets tracks which channels the automation watches (active) and
// which are frozen for human handling (paused). The two flags are
// independent: an escalated channel stays active but paused. Every
// mutation is persisted immediately; persistence failures are logged
// and the in-memory set stays authoritative for the session.
type ChannelSets struct {
	mu     sync.Mutex
	active map[int64]struct{}
	paused map[int64]struct{}
	store  storage.Storage
	logger *zap.Logger
}

func LoadChannelSets(store storage.Storage, logger *zap.Logger) *ChannelSets {
	s := &ChannelSets{
		active: make(map[int64]struct{}),
		paused: make(map[int64]struct{}),
		store:  store,
		logger: logger,
	}

	if ids, err := store.LoadActiveChannels(); err != nil {
		logger.Warn("Failed to load active channels", zap.Error(err))
	} else {
		for _, id := range ids {
			s.active[id] = struct{}{}
		}
	}
	if ids, err := store.LoadPausedChannels(); err != nil {
		logger.Warn("Failed to load paused channels", zap.Error(err))
	} else {
		for _, id := range ids {
			s.paused[id] = struct{}{}
		}
	}
	return s
}

func (s *ChannelSets) IsActive(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[channelID]
	return ok
}

func (s *ChannelSets) IsPaused(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paused[channelID]
	return ok
}

func (s *ChannelSets) Activate(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[channelID] = struct{}{}
	s.persistActive()
}

func (s *ChannelSets) Deactivate(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, channelID)
	s.persistActive()
}

func (s *ChannelSets) Pause(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[channelID] = struct{}{}
	s.persistPaused()
}

func (s *ChannelSets) Resume(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paused, channelID)
	s.persistPaused()
}

func (s *ChannelSets) persistActive() {
	if err := s.store.SaveActiveChannels(sortedIDs(s.active)); err != nil {
		s.logger.Error("Failed to persist active channels", zap.Error(err))
	}
}

func (s *ChannelSets) persistPaused() {
	if err := s.store.SavePausedChannels(sortedIDs(s.paused)); err != nil {
		s.logger.Error("Failed to persist paused channels", zap.Error(err))
	}
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
