package services

import "log"

// Event is a domain event handed to the notification collaborator.
type Event struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier is the outbound notification sink. Delivery (push, email) lives in
// a separate service; this core only emits.
type Notifier interface {
	Notify(userID string, ev Event)
}

// LogNotifier writes events to the process log. Used when no delivery
// service is wired, and in tests.
type LogNotifier struct{}

func (LogNotifier) Notify(userID string, ev Event) {
	log.Printf("🔔 [NOTIFY] user=%s type=%s %s", userID, ev.Type, ev.Body)
}
