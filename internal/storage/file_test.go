package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xboty/ticketbot/internal/models"
	"go.uber.org/zap"
)

func newFileStorage(t *testing.T) *FileStorage {
	t.Helper()
	s, err := NewFileStorage(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := newFileStorage(t)
	turns := []models.Turn{
		{Role: models.RoleUser, Text: "I want the 50 bonus", Author: "Alice"},
		{Role: models.RoleAssistant, Text: "is this your first ever account?"},
		{Role: models.RoleUser, Text: "", Author: "Alice", Attachments: []models.AttachmentRef{
			{Filename: "proof.png", StoragePath: "/attachments/42/proof.png"},
		}},
	}

	require.NoError(t, s.SaveConversation(42, turns))
	loaded, err := s.LoadConversation(42)
	require.NoError(t, err)
	assert.Equal(t, turns, loaded)
}

func TestLoadConversationMissingYieldsEmpty(t *testing.T) {
	s := newFileStorage(t)
	turns, err := s.LoadConversation(999)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestLoadConversationNormalizesLegacyShapes(t *testing.T) {
	s := newFileStorage(t)
	raw := `[
		{"role": "assistant", "content": "hello from the old format"},
		"a bare string entry",
		{"text": "missing role"},
		{"role": "user", "text": "modern entry"}
	]`
	require.NoError(t, os.WriteFile(s.conversationPath(7), []byte(raw), 0o644))

	turns, err := s.LoadConversation(7)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, models.RoleAssistant, turns[0].Role)
	assert.Equal(t, "hello from the old format", turns[0].Text)
	assert.Equal(t, models.Turn{Role: models.RoleUser, Text: "a bare string entry"}, turns[1])
	assert.Equal(t, models.Turn{Role: models.RoleUser, Text: "missing role"}, turns[2])
	assert.Equal(t, models.Turn{Role: models.RoleUser, Text: "modern entry"}, turns[3])
}

func TestCorruptConversationYieldsEmpty(t *testing.T) {
	s := newFileStorage(t)
	require.NoError(t, os.WriteFile(s.conversationPath(7), []byte("{not json"), 0o644))

	turns, err := s.LoadConversation(7)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestClearConversation(t *testing.T) {
	s := newFileStorage(t)
	require.NoError(t, s.SaveConversation(42, []models.Turn{{Role: models.RoleUser, Text: "hi"}}))
	require.NoError(t, s.ClearConversation(42))
	require.NoError(t, s.ClearConversation(42)) // idempotent

	turns, err := s.LoadConversation(42)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestListConversations(t *testing.T) {
	s := newFileStorage(t)
	require.NoError(t, s.SaveConversation(3, nil))
	require.NoError(t, s.SaveConversation(1, nil))
	require.NoError(t, s.SaveConversation(2, nil))

	ids, err := s.ListConversations()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestChannelSetsRoundTrip(t *testing.T) {
	s := newFileStorage(t)

	require.NoError(t, s.SaveActiveChannels([]int64{42, 7}))
	require.NoError(t, s.SavePausedChannels([]int64{42}))

	active, err := s.LoadActiveChannels()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 42}, active)

	paused, err := s.LoadPausedChannels()
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, paused)
}

func TestLoadChannelSetsDefaultEmpty(t *testing.T) {
	s := newFileStorage(t)
	active, err := s.LoadActiveChannels()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestStatuses(t *testing.T) {
	s := newFileStorage(t)
	require.NoError(t, s.SetStatus("42", models.StatusOpen))
	require.NoError(t, s.SetStatus("7", models.StatusClosed))
	require.NoError(t, s.SetStatus("42", models.StatusClosed))

	statuses, err := s.LoadStatuses()
	require.NoError(t, err)
	assert.Equal(t, map[string]models.TicketStatus{
		"42": models.StatusClosed,
		"7":  models.StatusClosed,
	}, statuses)
}

func TestAdminLogsNewestFirst(t *testing.T) {
	s := newFileStorage(t)
	first := models.AdminLogEntry{Admin: "admin", Action: "REPLY", TicketID: "42", Time: time.Now().UTC()}
	second := models.AdminLogEntry{Admin: "admin", Action: "CLOSE", TicketID: "42", Time: time.Now().UTC()}

	require.NoError(t, s.AppendAdminLog(first))
	require.NoError(t, s.AppendAdminLog(second))

	logs, err := s.LoadAdminLogs()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "CLOSE", logs[0].Action)
	assert.Equal(t, "REPLY", logs[1].Action)
}

func TestSaveAttachment(t *testing.T) {
	s := newFileStorage(t)
	path, err := s.SaveAttachment(42, "proof.png", []byte("image-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/attachments/42/proof.png", path)

	data, err := os.ReadFile(filepath.Join(s.AttachmentsDir(), "42", "proof.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	refs, err := s.ListAttachments(42)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "proof.png", refs[0].Filename)
}

func TestSaveAttachmentAvoidsCollisions(t *testing.T) {
	s := newFileStorage(t)
	_, err := s.SaveAttachment(42, "proof.png", []byte("one"))
	require.NoError(t, err)
	second, err := s.SaveAttachment(42, "proof.png", []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, "/attachments/42/proof.png", second)

	refs, err := s.ListAttachments(42)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestSaveAttachmentSanitizesPath(t *testing.T) {
	s := newFileStorage(t)
	path, err := s.SaveAttachment(42, "../../etc/passwd", []byte("nope"))
	require.NoError(t, err)
	assert.Equal(t, "/attachments/42/passwd", path)

	_, err = os.Stat(filepath.Join(s.AttachmentsDir(), "42", "passwd"))
	assert.NoError(t, err)
}
