package knowledge

import "fmt"

// Entry is one static piece of reference data served for informational
// questions. Loaded once at startup, never mutated.
type Entry struct {
	Topic       string
	Title       string
	Description string
	Link        string
}

// Store maps topic keys to their canned facts.
type Store struct {
	entries map[string]Entry
}

func NewStore(entries []Entry) *Store {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Topic] = e
	}
	return &Store{entries: m}
}

// Default returns the store with the built-in topics.
func Default() *Store {
	return NewStore([]Entry{
		{
			Topic:       "leaderboard",
			Title:       "Monthly Wager Leaderboard",
			Description: "The leaderboard ranks players by total wager this month. Top 10 share the prize pool, paid out within 48 hours of month end.",
			Link:        "https://x-boty.example.com/leaderboard",
		},
		{
			Topic:       "raffle",
			Title:       "Weekly Raffle",
			Description: "Every $100 deposited earns one raffle ticket. Draws run every Sunday at 20:00 UTC and winners are announced in the announcements channel.",
			Link:        "https://x-boty.example.com/raffle",
		},
		{
			Topic:       "giveaway",
			Title:       "Community Giveaways",
			Description: "Giveaways are posted in the giveaways channel. Enter by reacting to the post; winners are picked automatically when the timer ends.",
			Link:        "https://x-boty.example.com/giveaways",
		},
	})
}

func (s *Store) Lookup(topic string) (Entry, bool) {
	e, ok := s.entries[topic]
	return e, ok
}

// Render formats an entry as a chat reply.
func (e Entry) Render() string {
	return fmt.Sprintf("**%s**\n%s\nMore info: %s", e.Title, e.Description, e.Link)
}
