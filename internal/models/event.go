package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	CategoryConference = "conference"
	CategoryWorkshop   = "workshop"
	CategorySocial     = "social"
	CategoryOther      = "other"
)

var Categories = []string{CategoryConference, CategoryWorkshop, CategorySocial, CategoryOther}

func IsCategory(value string) bool {
	for _, c := range Categories {
		if c == value {
			return true
		}
	}
	return false
}

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID            string    `bun:"id,pk"`
	Title         string    `bun:"title,notnull"`
	Description   string    `bun:"description,notnull"`
	Date          time.Time `bun:"event_date,notnull"`
	Location      string    `bun:"location,notnull"`
	Category      string    `bun:"category,notnull"`
	MaxAttendees  *int      `bun:"max_attendees"` // nil means unlimited
	AttendeeCount int       `bun:"attendee_count,notnull"`
	ImageURL      string    `bun:"image_url,notnull"`
	CreatorID     string    `bun:"creator_id,notnull"`
	Creator       *User     `bun:"rel:belongs-to,join:creator_id=id"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`

	Attendees []User `bun:"-"`
}

type EventAttendee struct {
	bun.BaseModel `bun:"table:event_attendees,alias:ea"`

	EventID  string    `bun:"event_id,pk"`
	UserID   string    `bun:"user_id,pk"`
	User     *User     `bun:"rel:belongs-to,join:user_id=id"`
	JoinedAt time.Time `bun:"joined_at,notnull"`
}

func (e *Event) HasAttendee(userID string) bool {
	for _, a := range e.Attendees {
		if a.ID == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether a capped event has no spot left.
func (e *Event) IsFull() bool {
	return e.MaxAttendees != nil && e.AttendeeCount >= *e.MaxAttendees
}

// EventResponse is the JSON shape of an event with its people resolved.
type EventResponse struct {
	ID           string        `json:"_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Date         time.Time     `json:"date"`
	Location     string        `json:"location"`
	Category     string        `json:"category"`
	MaxAttendees *int          `json:"maxAttendees"`
	ImageURL     string        `json:"imageUrl"`
	Creator      *UserSummary  `json:"creator"`
	Attendees    []UserSummary `json:"attendees"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (e *Event) Response() EventResponse {
	resp := EventResponse{
		ID:           e.ID,
		Title:        e.Title,
		Description:  e.Description,
		Date:         e.Date,
		Location:     e.Location,
		Category:     e.Category,
		MaxAttendees: e.MaxAttendees,
		ImageURL:     e.ImageURL,
		Attendees:    make([]UserSummary, 0, len(e.Attendees)),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.Creator != nil {
		summary := e.Creator.Summary()
		resp.Creator = &summary
	}
	for i := range e.Attendees {
		resp.Attendees = append(resp.Attendees, e.Attendees[i].Summary())
	}
	return resp
}

func EventResponses(events []Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for i := range events {
		out = append(out, events[i].Response())
	}
	return out
}

// EventPatch holds raw client input. A nil field was not supplied.
type EventPatch struct {
	Title        *string
	Description  *string
	Date         *string
	Location     *string
	Category     *string
	MaxAttendees *string
	ImageURL     *string
}

// EventQuery is the raw list filter as received on the query string.
type EventQuery struct {
	Category  string
	StartDate string
	EndDate   string
	Creator   string
	Search    string
}

// EventFilter is the validated form of EventQuery.
type EventFilter struct {
	Category  string
	StartDate *time.Time
	EndDate   *time.Time
	CreatorID string
	Search    string
}
