package models

import "time"

const (
	NotificationEventCreated   = "event.created"
	NotificationEventUpdated   = "event.updated"
	NotificationEventDeleted   = "event.deleted"
	NotificationAttendeeJoined = "attendee.joined"
	NotificationAttendeeLeft   = "attendee.left"
)

// Notification is pushed to realtime rooms and the lifecycle topic.
type Notification struct {
	Type          string    `json:"type"`
	EventID       string    `json:"eventId"`
	UserID        string    `json:"userId,omitempty"`
	AttendeeCount int       `json:"attendeeCount"`
	Timestamp     time.Time `json:"timestamp"`
}
