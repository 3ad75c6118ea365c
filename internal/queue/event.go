// Package queue defines message payloads exchanged over the message broker.
package queue

// ApplicationSubmittedEvent is published by the intake bot when a lead
// finishes the questionnaire.  It carries everything needed to insert the
// application row without calling back into the bot.
type ApplicationSubmittedEvent struct {
	TelegramID  int64   `json:"telegram_id"`
	Username    *string `json:"username"`
	FirstName   *string `json:"first_name"`
	Phone       string  `json:"phone"`
	Age         int     `json:"age"`
	Citizenship string  `json:"citizenship"`
	Source      *string `json:"source"`
	CampaignID  *uint64 `json:"campaign_id"`
	SubmittedAt string  `json:"submitted_at"`
}
