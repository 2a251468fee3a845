package ticket

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xboty/ticketbot/internal/knowledge"
	"github.com/xboty/ticketbot/internal/models"
	"github.com/xboty/ticketbot/internal/storage"
	"go.uber.org/zap"
)

const testChannel int64 = 42

type fakeTransport struct {
	mu      sync.Mutex
	sent    map[int64][]string
	renames map[int64][]string
	dms     map[string][]string
	deleted []int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:    make(map[int64][]string),
		renames: make(map[int64][]string),
		dms:     make(map[string][]string),
	}
}

func (f *fakeTransport) SendText(channelID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channelID] = append(f.sent[channelID], text)
	return nil
}

func (f *fakeTransport) RenameChannel(channelID int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames[channelID] = append(f.renames[channelID], name)
	return nil
}

func (f *fakeTransport) ListRoleMembers(string) ([]string, error) {
	return []string{"admin-1", "admin-2"}, nil
}

func (f *fakeTransport) SendDirectMessage(userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[userID] = append(f.dms[userID], text)
	return nil
}

func (f *fakeTransport) DeleteChannel(channelID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeTransport) AdminMention() string { return "@admins" }

func (f *fakeTransport) messages(channelID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[channelID]...)
}

func (f *fakeTransport) countContaining(channelID int64, substr string) int {
	n := 0
	for _, msg := range f.messages(channelID) {
		if strings.Contains(msg, substr) {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	reply    string
	escalate bool
	calls    int
}

func (f *fakeGateway) Ask(context.Context, string, []models.Turn) (string, bool) {
	f.calls++
	return f.reply, f.escalate
}

type fixture struct {
	machine   *Machine
	store     *storage.MemoryStorage
	states    *MemoryStateStore
	sets      *ChannelSets
	transport *fakeTransport
	gateway   *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	logger := zap.NewNop()
	sets := LoadChannelSets(store, logger)
	transport := newFakeTransport()
	gateway := &fakeGateway{reply: "generic answer"}
	states := NewMemoryStateStore()

	machine := NewMachine(store, states, sets, gateway, knowledge.Default(), transport,
		Config{SystemPrompt: "system", AdminRole: "Admins"}, logger)

	sets.Activate(testChannel)
	return &fixture{
		machine:   machine,
		store:     store,
		states:    states,
		sets:      sets,
		transport: transport,
		gateway:   gateway,
	}
}

func (fx *fixture) send(text string) {
	fx.machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID:  testChannel,
		AuthorID:   "u1",
		AuthorName: "Alice Smith",
		Text:       text,
	})
}

func (fx *fixture) sendAttachment(filenames ...string) {
	var atts []models.IncomingAttachment
	for _, name := range filenames {
		atts = append(atts, models.IncomingAttachment{Filename: name, Data: []byte("img")})
	}
	fx.machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID:   testChannel,
		AuthorID:    "u1",
		AuthorName:  "Alice Smith",
		Attachments: atts,
	})
}

func (fx *fixture) state(t *testing.T) *models.TicketState {
	t.Helper()
	st, ok := fx.states.Get(testChannel)
	require.True(t, ok)
	return st
}

func TestInactiveChannelIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID: 999, AuthorName: "Bob", Text: "hello?",
	})
	assert.Empty(t, fx.transport.messages(999))
}

func TestPausedChannelSilent(t *testing.T) {
	fx := newFixture(t)
	fx.sets.Pause(testChannel)
	fx.send("I want the 50 bonus")
	assert.Empty(t, fx.transport.messages(testChannel))
}

func TestBotMessagesIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID: testChannel, AuthorName: "X-Boty", Text: "hello", IsBot: true,
	})
	assert.Empty(t, fx.transport.messages(testChannel))
}

func TestGreetingDeduplicated(t *testing.T) {
	fx := newFixture(t)
	fx.send("hello")
	fx.send("hi again")
	msgs := fx.transport.messages(testChannel)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], greetingPrefix))
	assert.Equal(t, 0, fx.gateway.calls)
}

func TestKnowledgeLookupAnswersDirectly(t *testing.T) {
	fx := newFixture(t)
	fx.send("how does the leaderboard work?")
	msgs := fx.transport.messages(testChannel)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Leaderboard")
	assert.Equal(t, 0, fx.gateway.calls)
	assert.False(t, fx.sets.IsPaused(testChannel))
}

func TestFallsBackToGateway(t *testing.T) {
	fx := newFixture(t)
	fx.send("how do I change my email address on file?")
	msgs := fx.transport.messages(testChannel)
	require.Len(t, msgs, 1)
	assert.Equal(t, "generic answer", msgs[0])
	assert.Equal(t, 1, fx.gateway.calls)
}

func TestGatewayEscalationPausesChannel(t *testing.T) {
	fx := newFixture(t)
	fx.gateway.escalate = true
	fx.send("something totally unclassifiable went wrong here today")

	assert.True(t, fx.sets.IsPaused(testChannel))
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))
}

func TestChannelRenamedOnceOnCategory(t *testing.T) {
	fx := newFixture(t)
	fx.send("I want the 50 bonus")
	fx.send("bonus please")
	require.Len(t, fx.transport.renames[testChannel], 1)
	assert.Equal(t, "bonus-claim-alice", fx.transport.renames[testChannel][0])
}

// Scenario: the first-ever-account question is asked exactly once, and
// an unrelated follow-up does not repeat it.
func TestBonusFlowAsksFirstEverQuestionOnce(t *testing.T) {
	fx := newFixture(t)
	fx.send("I want the 50 bonus")

	assert.Equal(t, 1, fx.transport.countContaining(testChannel, firstEverMarker))
	assert.True(t, fx.state(t).AskedFirstEverQuestion)

	fx.send("by the way, great weather today")
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, firstEverQuestionText[:40]))
}

func TestBonusFlowRejectsNonFirstAccount(t *testing.T) {
	fx := newFixture(t)
	fx.send("I want the 50 bonus")
	fx.send("no")

	msgs := fx.transport.messages(testChannel)
	require.Len(t, msgs, 2)
	assert.Equal(t, bonusRejectionText, msgs[1])
	assert.False(t, fx.sets.IsPaused(testChannel))
}

// Scenario chain: yes -> evidence request; one attachment -> ask for
// username; labeled username -> escalation fires exactly once.
func TestBonusFlowEndToEnd(t *testing.T) {
	fx := newFixture(t)
	fx.send("I want the 50 bonus")
	fx.send("yes")

	msgs := fx.transport.messages(testChannel)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "username")
	assert.Contains(t, msgs[1], "KYC")
	assert.Contains(t, msgs[1], "code")
	assert.Contains(t, msgs[1], "registration date")

	fx.sendAttachment("proof.png")
	st := fx.state(t)
	assert.Equal(t, 1, st.AttachmentsTotal)
	assert.Equal(t, "", st.Username)

	msgs = fx.transport.messages(testChannel)
	require.Len(t, msgs, 3)
	assert.Equal(t, askUsernameText, msgs[2])

	fx.send("username: alice123")
	st = fx.state(t)
	assert.True(t, st.Escalated)
	assert.Equal(t, "alice123", st.Username)
	assert.True(t, fx.sets.IsPaused(testChannel))
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, "alice123"))

	// DMs go to the admin role members.
	assert.Len(t, fx.transport.dms, 2)

	// Paused: nothing further is processed.
	fx.send("anything else")
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))
}

func TestTwoAttachmentsAloneSufficient(t *testing.T) {
	fx := newFixture(t)
	fx.send("I deposited 200 and the deposit bonus is missing")

	fx.sendAttachment("a.png")
	fx.sendAttachment("b.png")

	st := fx.state(t)
	assert.Equal(t, 2, st.AttachmentsTotal)
	assert.True(t, st.Escalated)
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))
}

func TestEscalationIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.send("i won the giveaway yesterday")
	fx.sendAttachment("win.png")
	fx.send("username: neo")

	require.True(t, fx.state(t).Escalated)
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))

	// A manual escalation on an already escalated ticket posts nothing
	// new.
	fx.machine.EscalateManually(testChannel, "Alice Smith")
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))
}

func TestEscalateManually(t *testing.T) {
	fx := newFixture(t)
	mention := fx.machine.EscalateManually(testChannel, "Alice Smith")

	assert.Equal(t, "@admins", mention)
	assert.True(t, fx.sets.IsPaused(testChannel))
	assert.Equal(t, 1, fx.transport.countContaining(testChannel, escalationMarker))
}

func TestAttachmentsCounterMonotonic(t *testing.T) {
	fx := newFixture(t)
	fx.send("I deposited money and want my deposit bonus")

	totals := []int{}
	fx.sendAttachment("a.png")
	totals = append(totals, fx.state(t).AttachmentsTotal)
	fx.sendAttachment("b.png", "c.png")
	totals = append(totals, fx.state(t).AttachmentsTotal)

	assert.Equal(t, []int{1, 3}, totals)
}

func TestFlowSticky(t *testing.T) {
	fx := newFixture(t)
	fx.send("my deposit bonus is missing")
	require.Equal(t, models.FlowDepositClaim, fx.state(t).Flow)

	fx.send("actually never mind, how is the weather")
	assert.Equal(t, models.FlowDepositClaim, fx.state(t).Flow)
}

func TestCloseTicketDestroysState(t *testing.T) {
	fx := newFixture(t)
	fx.send("my deposit bonus is missing")
	fx.sendAttachment("a.png")
	require.Equal(t, 1, fx.state(t).AttachmentsTotal)

	fx.machine.CloseTicket(testChannel)

	_, ok := fx.states.Get(testChannel)
	assert.False(t, ok)
	assert.False(t, fx.sets.IsActive(testChannel))
	assert.False(t, fx.sets.IsPaused(testChannel))

	turns, err := fx.store.LoadConversation(testChannel)
	require.NoError(t, err)
	assert.Empty(t, turns)

	statuses, err := fx.store.LoadStatuses()
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, statuses[models.ChannelKey(testChannel)])
}

// The counter only reflects attachments that were actually persisted;
// a failed save must not inflate it past what a restart fold would
// recount from the log.
func TestFailedAttachmentSaveNotCounted(t *testing.T) {
	logger := zap.NewNop()
	store := &attachmentFailStore{MemoryStorage: storage.NewMemoryStorage()}
	sets := LoadChannelSets(store, logger)
	transport := newFakeTransport()
	states := NewMemoryStateStore()
	machine := NewMachine(store, states, sets, &fakeGateway{reply: "generic answer"},
		knowledge.Default(), transport,
		Config{SystemPrompt: "system", AdminRole: "Admins"}, logger)
	sets.Activate(testChannel)

	machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID: testChannel, AuthorName: "Alice Smith",
		Text: "my deposit bonus is missing",
	})
	machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID: testChannel, AuthorName: "Alice Smith",
		Attachments: []models.IncomingAttachment{{Filename: "a.png", Data: []byte("img")}},
	})

	st, ok := states.Get(testChannel)
	require.True(t, ok)
	assert.Equal(t, 0, st.AttachmentsTotal)
	assert.False(t, st.Escalated)

	// The persisted turn carries no refs either, so the fold agrees.
	turns, err := store.LoadConversation(testChannel)
	require.NoError(t, err)
	rebuilt := models.TicketState{ChannelID: testChannel}
	foldConversation(&rebuilt, turns)
	assert.Equal(t, 0, rebuilt.AttachmentsTotal)
}

type attachmentFailStore struct {
	*storage.MemoryStorage
}

func (s *attachmentFailStore) SaveAttachment(int64, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

// Facts rebuilt from the persisted log after a restart must equal the
// facts the live machine had before it.
func TestRestartFoldMatchesLiveState(t *testing.T) {
	fx := newFixture(t)
	fx.send("I want the 50 bonus")
	fx.send("yes, and I signed up with your referral code")
	fx.sendAttachment("proof.png")

	live := *fx.state(t)

	turns, err := fx.store.LoadConversation(testChannel)
	require.NoError(t, err)
	rebuilt := models.TicketState{ChannelID: testChannel}
	foldConversation(&rebuilt, turns)

	assert.Equal(t, live, rebuilt)
}

func TestConversationRecordsTurnsInOrder(t *testing.T) {
	fx := newFixture(t)
	fx.send("hello")
	fx.send("I want the 50 bonus")

	turns, err := fx.store.LoadConversation(testChannel)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, models.RoleUser, turns[2].Role)
	assert.Equal(t, models.RoleAssistant, turns[3].Role)
	assert.Contains(t, turns[3].Text, firstEverMarker)
}
