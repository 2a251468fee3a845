package ticket

import (
	"fmt"

	"github.com/xboty/ticketbot/internal/models"
)

// Canned reply texts. firstEverMarker and escalationMarker double as
// search keys: the flow script scans recent turns for the question
// marker, and the restart fold recognizes escalation summaries by
// theirs. Keep the markers inside the corresponding texts.
const (
	greetingPrefix = "Hey"

	firstEverMarker = "first ever account"

	firstEverQuestionText = "Before we proceed with your bonus claim — is this your " +
		"first ever account with us? Please answer **yes** or **no**."

	firstEverReminderText = "Just to check — is this your first ever account with us? " +
		"A quick **yes** or **no** is all I need."

	bonusRejectionText = "Unfortunately this bonus is only available for first-time accounts, " +
		"so I can't process this claim. You can still join the weekly raffle or the " +
		"leaderboard race — ask me about either for details."

	askUsernameText = "Almost there! Please send the username of your account " +
		"(for example: `username: yourname`) so the admins can verify the claim."

	holdingText = "Thanks! I'm still waiting on the remaining proof before I can " +
		"pass this to the admins. Please send what's missing when you're ready."

	escalationMarker = "🚨 Ticket escalated"
)

var proofRequests = map[models.Flow]string{
	models.FlowBonusClaim: "Great — to claim the bonus please send:\n" +
		"• your **username**\n" +
		"• a screenshot of your **KYC verification**\n" +
		"• a screenshot showing you signed up with our **code**\n" +
		"• your **registration date**",
	models.FlowDepositClaim: "To claim the deposit bonus please send:\n" +
		"• your **username**\n" +
		"• a screenshot of the **deposit confirmation** showing amount and date",
	models.FlowGiveawayClaim: "Congrats! To claim your giveaway win please send:\n" +
		"• your **username**\n" +
		"• a screenshot of the **winning announcement** with your name visible",
}

func greetingText(name string) string {
	if name == "" {
		return greetingPrefix + " there! 👋 How can I help you today?"
	}
	return fmt.Sprintf("%s %s! 👋 How can I help you today?", greetingPrefix, name)
}
