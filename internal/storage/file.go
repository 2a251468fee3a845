package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xboty/ticketbot/internal/models"
	"go.uber.org/zap"
)

const (
	activeFile   = "active_channels.json"
	pausedFile   = "paused_channels.json"
	statusFile   = "ticket_status.json"
	adminLogFile = "admin_logs.json"
	convDir      = "conversations"
	attachDir    = "attachments"
)

// FileStorage keeps everything in flat JSON files under a data
// directory, one conversation file per channel. Reads of missing or
// unparsable files return empty defaults; the parse failure is logged
// and the old file is left in place.
type FileStorage struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

func NewFileStorage(dir string, logger *zap.Logger) (*FileStorage, error) {
	for _, sub := range []string{"", convDir, attachDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return &FileStorage{dir: dir, logger: logger}, nil
}

// AttachmentsDir is the directory the dashboard serves as /attachments.
func (s *FileStorage) AttachmentsDir() string {
	return filepath.Join(s.dir, attachDir)
}

func (s *FileStorage) conversationPath(channelID int64) string {
	return filepath.Join(s.dir, convDir, fmt.Sprintf("conv_%d.json", channelID))
}

func (s *FileStorage) readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read state file",
				zap.Error(err),
				zap.String("path", path))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Failed to parse state file, using defaults",
			zap.Error(err),
			zap.String("path", path))
		return false
	}
	return true
}

func (s *FileStorage) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStorage) LoadConversation(channelID int64) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var turns []models.Turn
	s.readJSON(s.conversationPath(channelID), &turns)
	if turns == nil {
		turns = []models.Turn{}
	}
	return turns, nil
}

func (s *FileStorage) SaveConversation(channelID int64, turns []models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turns == nil {
		turns = []models.Turn{}
	}
	return s.writeJSON(s.conversationPath(channelID), turns)
}

func (s *FileStorage) ClearConversation(channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.conversationPath(channelID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove conversation: %w", err)
	}
	return nil
}

func (s *FileStorage) ListConversations() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, convDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "conv_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "conv_"), ".json"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *FileStorage) loadSet(name string) []int64 {
	var ids []int64
	s.readJSON(filepath.Join(s.dir, name), &ids)
	return ids
}

func (s *FileStorage) saveSet(name string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return s.writeJSON(filepath.Join(s.dir, name), ids)
}

func (s *FileStorage) LoadActiveChannels() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSet(activeFile), nil
}

func (s *FileStorage) SaveActiveChannels(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSet(activeFile, ids)
}

func (s *FileStorage) LoadPausedChannels() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSet(pausedFile), nil
}

func (s *FileStorage) SavePausedChannels(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSet(pausedFile, ids)
}

func (s *FileStorage) LoadStatuses() (map[string]models.TicketStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]models.TicketStatus)
	s.readJSON(filepath.Join(s.dir, statusFile), &statuses)
	return statuses, nil
}

func (s *FileStorage) SetStatus(ticketID string, status models.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]models.TicketStatus)
	s.readJSON(filepath.Join(s.dir, statusFile), &statuses)
	statuses[ticketID] = status
	return s.writeJSON(filepath.Join(s.dir, statusFile), statuses)
}

// AppendAdminLog prepends the entry so the stored file stays
// newest-first, matching what the dashboard serves.
func (s *FileStorage) AppendAdminLog(entry models.AdminLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var logs []models.AdminLogEntry
	s.readJSON(filepath.Join(s.dir, adminLogFile), &logs)
	logs = append([]models.AdminLogEntry{entry}, logs...)
	return s.writeJSON(filepath.Join(s.dir, adminLogFile), logs)
}

func (s *FileStorage) LoadAdminLogs() ([]models.AdminLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var logs []models.AdminLogEntry
	s.readJSON(filepath.Join(s.dir, adminLogFile), &logs)
	if logs == nil {
		logs = []models.AdminLogEntry{}
	}
	return logs, nil
}

func (s *FileStorage) SaveAttachment(channelID int64, filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := sanitizeFilename(filename)
	if name == "" {
		name = uuid.New().String()
	}
	dir := filepath.Join(s.dir, attachDir, models.ChannelKey(channelID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		name = uuid.New().String()[:8] + "_" + name
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return fmt.Sprintf("/attachments/%d/%s", channelID, name), nil
}

func (s *FileStorage) ListAttachments(channelID int64) ([]models.AttachmentRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, attachDir, models.ChannelKey(channelID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	var refs []models.AttachmentRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		refs = append(refs, models.AttachmentRef{
			Filename:    e.Name(),
			StoragePath: fmt.Sprintf("/attachments/%d/%s", channelID, e.Name()),
		})
	}
	return refs, nil
}

func (s *FileStorage) Close() error {
	return nil
}

// sanitizeFilename strips any path components so stored names cannot
// escape the attachment directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
