package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-events/internal/apperr"
	"ms-events/internal/logger"
	"ms-events/internal/metrics"
	"ms-events/internal/models"

	"github.com/google/uuid"
)

const publishTimeout = 5 * time.Second

// EventStore is the persistence the lifecycle service needs.
type EventStore interface {
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	UpdateEvent(ctx context.Context, event *models.Event, columns []string) (bool, error)
	DeleteEvent(ctx context.Context, id string) (bool, error)
	AddAttendee(ctx context.Context, eventID, userID string, now time.Time) (bool, error)
	RemoveAttendee(ctx context.Context, eventID, userID string, now time.Time) (bool, error)
}

// Publisher receives notifications after successful state changes.
type Publisher interface {
	PublishNotification(ctx context.Context, n models.Notification) error
}

type EventService struct {
	Store      EventStore
	Publishers map[string]Publisher
	Logger     *logger.Logger

	now     func() time.Time
	pending sync.WaitGroup
}

func NewEventService(store EventStore, log *logger.Logger) *EventService {
	return &EventService{
		Store:      store,
		Publishers: make(map[string]Publisher),
		Logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AddPublisher registers a notification sink under name.
func (s *EventService) AddPublisher(name string, p Publisher) {
	s.Publishers[name] = p
}

// SetClock replaces the time source.
func (s *EventService) SetClock(now func() time.Time) {
	s.now = now
}

// Wait blocks until in-flight notifications are delivered.
func (s *EventService) Wait() {
	s.pending.Wait()
}

func (s *EventService) ListEvents(ctx context.Context, query models.EventQuery) (events []models.Event, err error) {
	defer func() { metrics.RecordEventOperation("list", err) }()

	filter, err := parseFilter(query)
	if err != nil {
		return nil, err
	}
	events, err = s.Store.ListEvents(ctx, filter)
	if err != nil {
		return nil, storeError("Failed to fetch events", err)
	}
	return events, nil
}

// ListUserEvents returns the events created by requesterID.
func (s *EventService) ListUserEvents(ctx context.Context, requesterID string) (events []models.Event, err error) {
	defer func() { metrics.RecordEventOperation("list_mine", err) }()

	events, err = s.Store.ListEvents(ctx, models.EventFilter{CreatorID: requesterID})
	if err != nil {
		return nil, storeError("Failed to fetch events", err)
	}
	return events, nil
}

func (s *EventService) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	if err := parseEventID(id); err != nil {
		return nil, err
	}
	event, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}
	return event, nil
}

func (s *EventService) CreateEvent(ctx context.Context, requesterID string, patch models.EventPatch) (event *models.Event, err error) {
	defer func() { metrics.RecordEventOperation("create", err) }()

	now := s.now()
	changes, err := validatePatch(patch, true, now)
	if err != nil {
		return nil, err
	}

	event = &models.Event{
		ID:        uuid.New().String(),
		CreatorID: requesterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, c := range changes {
		c.apply(event)
	}

	if err := s.Store.CreateEvent(ctx, event); err != nil {
		return nil, storeError("Failed to create event", err)
	}

	created, err := s.Store.GetEvent(ctx, event.ID)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}

	s.Logger.LogEvent("CREATE", created.ID, fmt.Sprintf("created by %s", requesterID))
	s.notify(ctx, models.NotificationEventCreated, created, requesterID)
	return created, nil
}

func (s *EventService) UpdateEvent(ctx context.Context, requesterID, id string, patch models.EventPatch) (event *models.Event, err error) {
	defer func() { metrics.RecordEventOperation("update", err) }()

	if err := parseEventID(id); err != nil {
		return nil, err
	}
	current, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}
	if current.CreatorID != requesterID {
		s.Logger.LogSecurity("FORBIDDEN_UPDATE", fmt.Sprintf("user %s on event %s", requesterID, id))
		return nil, apperr.Forbidden("Not authorized to update this event")
	}

	now := s.now()
	changes, err := validatePatch(patch, false, now)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return current, nil
	}

	updated := *current
	columns := make([]string, 0, len(changes)+1)
	for _, c := range changes {
		c.apply(&updated)
		columns = append(columns, c.column)
	}
	if updated.MaxAttendees != nil && *updated.MaxAttendees < current.AttendeeCount {
		return nil, capacityBelowCount(current.AttendeeCount)
	}
	updated.UpdatedAt = now
	columns = append(columns, "updated_at")

	applied, err := s.Store.UpdateEvent(ctx, &updated, columns)
	if err != nil {
		return nil, storeError("Failed to update event", err)
	}
	if !applied {
		// someone joined between the read and the guarded write, or the event is gone
		fresh, err := s.Store.GetEvent(ctx, id)
		if err != nil {
			return nil, storeError("Failed to fetch event", err)
		}
		return nil, capacityBelowCount(fresh.AttendeeCount)
	}

	event, err = s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}

	s.Logger.LogEvent("UPDATE", id, fmt.Sprintf("columns %v", columns))
	s.notify(ctx, models.NotificationEventUpdated, event, requesterID)
	return event, nil
}

// DeleteEvent removes the event and returns it as it was before deletion.
func (s *EventService) DeleteEvent(ctx context.Context, requesterID, id string) (event *models.Event, err error) {
	defer func() { metrics.RecordEventOperation("delete", err) }()

	if err := parseEventID(id); err != nil {
		return nil, err
	}
	event, err = s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}
	if event.CreatorID != requesterID {
		s.Logger.LogSecurity("FORBIDDEN_DELETE", fmt.Sprintf("user %s on event %s", requesterID, id))
		return nil, apperr.Forbidden("Not authorized to delete this event")
	}

	deleted, err := s.Store.DeleteEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to delete event", err)
	}
	if !deleted {
		return nil, apperr.NotFound("Event not found")
	}

	s.Logger.LogEvent("DELETE", id, fmt.Sprintf("deleted by %s", requesterID))
	gone := *event
	gone.AttendeeCount = 0
	s.notify(ctx, models.NotificationEventDeleted, &gone, requesterID)
	return event, nil
}

func (s *EventService) JoinEvent(ctx context.Context, requesterID, id string) (event *models.Event, err error) {
	defer func() { metrics.RecordEventOperation("join", err) }()

	if err := parseEventID(id); err != nil {
		return nil, err
	}
	current, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}

	now := s.now()
	if err := checkJoinable(current, requesterID, now); err != nil {
		return nil, err
	}

	added, err := s.Store.AddAttendee(ctx, id, requesterID, now)
	if err != nil {
		return nil, storeError("Failed to join event", err)
	}
	if !added {
		// the guarded write lost a race; report what the store sees now
		fresh, err := s.Store.GetEvent(ctx, id)
		if err != nil {
			return nil, storeError("Failed to fetch event", err)
		}
		if err := checkJoinable(fresh, requesterID, now); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict(apperr.CodeEventFull, "Event is full")
	}

	event, err = s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}

	s.Logger.LogEvent("JOIN", id, fmt.Sprintf("user %s (%d attending)", requesterID, event.AttendeeCount))
	s.notify(ctx, models.NotificationAttendeeJoined, event, requesterID)
	return event, nil
}

func (s *EventService) LeaveEvent(ctx context.Context, requesterID, id string) (event *models.Event, err error) {
	defer func() { metrics.RecordEventOperation("leave", err) }()

	if err := parseEventID(id); err != nil {
		return nil, err
	}
	current, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}

	now := s.now()
	if err := checkLeavable(current, requesterID, now); err != nil {
		return nil, err
	}

	removed, err := s.Store.RemoveAttendee(ctx, id, requesterID, now)
	if err != nil {
		return nil, storeError("Failed to leave event", err)
	}
	if !removed {
		fresh, err := s.Store.GetEvent(ctx, id)
		if err != nil {
			return nil, storeError("Failed to fetch event", err)
		}
		if err := checkLeavable(fresh, requesterID, now); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict(apperr.CodeNotAttending, "You are not attending this event")
	}

	event, err = s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch event", err)
	}

	s.Logger.LogEvent("LEAVE", id, fmt.Sprintf("user %s (%d attending)", requesterID, event.AttendeeCount))
	s.notify(ctx, models.NotificationAttendeeLeft, event, requesterID)
	return event, nil
}

// checkJoinable applies the join rules in order: already joined, full, past.
func checkJoinable(event *models.Event, userID string, now time.Time) error {
	if event.HasAttendee(userID) {
		return apperr.Conflict(apperr.CodeAlreadyJoined, "You have already joined this event")
	}
	if event.IsFull() {
		return apperr.Conflict(apperr.CodeEventFull, "Event is full")
	}
	if !event.Date.After(now) {
		return apperr.Conflict(apperr.CodeEventPast, "Cannot join past events")
	}
	return nil
}

// checkLeavable applies the leave rules in order: not attending, creator, past.
func checkLeavable(event *models.Event, userID string, now time.Time) error {
	if !event.HasAttendee(userID) {
		return apperr.Conflict(apperr.CodeNotAttending, "You are not attending this event")
	}
	if event.CreatorID == userID {
		return apperr.Conflict(apperr.CodeCreatorCannotLeave, "Event creator cannot leave their own event")
	}
	if !event.Date.After(now) {
		return apperr.Conflict(apperr.CodeEventPast, "Cannot leave past events")
	}
	return nil
}

func capacityBelowCount(count int) error {
	return apperr.ValidationFields(
		fmt.Sprintf("maxAttendees cannot be lower than the current number of attendees (%d)", count), "maxAttendees")
}

// notify hands the notification to every publisher in the background.
// Failures are logged and never reach the caller.
func (s *EventService) notify(ctx context.Context, kind string, event *models.Event, userID string) {
	n := models.Notification{
		Type:          kind,
		EventID:       event.ID,
		UserID:        userID,
		AttendeeCount: event.AttendeeCount,
		Timestamp:     s.now(),
	}

	base := context.WithoutCancel(ctx)
	for name, p := range s.Publishers {
		s.pending.Add(1)
		go func(name string, p Publisher) {
			defer s.pending.Done()
			ctx, cancel := context.WithTimeout(base, publishTimeout)
			defer cancel()
			if err := p.PublishNotification(ctx, n); err != nil {
				metrics.NotificationFailures.WithLabelValues(name).Inc()
				s.Logger.Warn("NOTIFY", fmt.Sprintf("%s publish of %s for %s failed: %v", name, kind, event.ID, err))
			}
		}(name, p)
	}
}

// storeError passes taxonomy errors through and wraps the rest as internal.
func storeError(message string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(message, err)
}
