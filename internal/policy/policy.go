package policy

import (
	"strings"

	"github.com/xboty/ticketbot/internal/models"
)

// ProofReady decides whether a ticket has collected enough evidence to
// hand off to a human. One attachment is enough only when accompanied
// by identifying text (a captured username or non-blank message); two
// attachments are accepted on their own, redundant proof standing in
// for identification. Monotonic in the attachment counter: once true
// for a state it stays true.
func ProofReady(state *models.TicketState, currentMessageText string) bool {
	textPresent := state.Username != "" || strings.TrimSpace(currentMessageText) != ""
	return (state.AttachmentsTotal >= 1 && textPresent) || state.AttachmentsTotal >= 2
}
