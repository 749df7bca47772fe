package models

// Channel is a messaging-platform channel the user must join during onboarding.
// It is configuration, not a table.
type Channel struct {
	ChatID int64  `json:"chat_id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}
