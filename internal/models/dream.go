package models

import "time"

// Dream is one interpreted dream as stored by the backend: the user's text
// and the bot's response, bound to the owning user.
type Dream struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	RequestText  string    `json:"request_text"`
	ResponseText string    `json:"response_text"`
	CreatedAt    time.Time `json:"created_at"`
}
