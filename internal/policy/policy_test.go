package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xboty/ticketbot/internal/models"
)

func TestProofReady(t *testing.T) {
	tests := []struct {
		name        string
		attachments int
		username    string
		text        string
		want        bool
	}{
		{"nothing", 0, "", "", false},
		{"text only", 0, "", "here is everything", false},
		{"username only", 0, "alice", "", false},
		{"one attachment no text", 1, "", "", false},
		{"one attachment with text", 1, "", "proof attached", true},
		{"one attachment with username", 1, "alice", "", true},
		{"two attachments alone", 2, "", "", true},
		{"blank text does not count", 1, "", "   \t ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &models.TicketState{
				AttachmentsTotal: tt.attachments,
				Username:         tt.username,
			}
			assert.Equal(t, tt.want, ProofReady(state, tt.text))
		})
	}
}

// Once true for a given state, the predicate stays true for any state
// with more attachments or a captured username.
func TestProofReadyMonotonic(t *testing.T) {
	base := &models.TicketState{AttachmentsTotal: 1, Username: "alice"}
	assert.True(t, ProofReady(base, ""))

	for attachments := 1; attachments <= 5; attachments++ {
		stronger := &models.TicketState{AttachmentsTotal: attachments, Username: "alice"}
		assert.True(t, ProofReady(stronger, ""), "attachments=%d", attachments)
	}
}
