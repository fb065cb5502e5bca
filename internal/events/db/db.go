package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-events/internal/apperr"
	"ms-events/internal/database"
	"ms-events/internal/models"

	"github.com/uptrace/bun"
)

// errNotApplied rolls back a guarded write whose precondition no longer holds.
var errNotApplied = errors.New("guarded write not applied")

type DB struct {
	Bun *bun.DB
}

func (d *DB) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	var events []models.Event
	q := d.Bun.NewSelect().
		Model(&events).
		Relation("Creator").
		OrderExpr("e.created_at DESC, e.id DESC")

	if filter.Category != "" {
		q = q.Where("e.category = ?", filter.Category)
	}
	if filter.StartDate != nil {
		q = q.Where("e.event_date >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		q = q.Where("e.event_date <= ?", filter.EndDate.UTC())
	}
	if filter.CreatorID != "" {
		q = q.Where("e.creator_id = ?", filter.CreatorID)
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`LOWER(e.title) LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`LOWER(e.description) LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`LOWER(e.location) LIKE ? ESCAPE '\'`, pattern)
		})
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if err := d.loadAttendees(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Relation("Creator").
		Where("e.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Event not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	events := []models.Event{event}
	if err := d.loadAttendees(ctx, events); err != nil {
		return nil, err
	}
	return &events[0], nil
}

// loadAttendees resolves the attendee users of every event in one query.
func (d *DB) loadAttendees(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}

	var rows []models.EventAttendee
	err := d.Bun.NewSelect().
		Model(&rows).
		Relation("User").
		Where("ea.event_id IN (?)", bun.In(ids)).
		OrderExpr("ea.joined_at ASC").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to load attendees: %w", err)
	}

	byEvent := make(map[string][]models.User, len(events))
	for _, row := range rows {
		if row.User != nil {
			byEvent[row.EventID] = append(byEvent[row.EventID], *row.User)
		}
	}
	for i := range events {
		events[i].Attendees = byEvent[events[i].ID]
		if events[i].Attendees == nil {
			events[i].Attendees = []models.User{}
		}
		normalizeEvent(&events[i])
	}
	return nil
}

// CreateEvent inserts the event with its creator as the first attendee.
func (d *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		event.AttendeeCount = 1
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		attendee := &models.EventAttendee{
			EventID:  event.ID,
			UserID:   event.CreatorID,
			JoinedAt: event.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(attendee).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert creator attendance: %w", err)
		}
		return nil
	})
}

// UpdateEvent writes the named columns. When max_attendees is among them the
// write only applies if the current attendee count still fits under the new cap.
func (d *DB) UpdateEvent(ctx context.Context, event *models.Event, columns []string) (bool, error) {
	q := d.Bun.NewUpdate().
		Model(event).
		Column(columns...).
		Where("id = ?", event.ID)

	for _, c := range columns {
		if c == "max_attendees" && event.MaxAttendees != nil {
			q = q.Where("attendee_count <= ?", *event.MaxAttendees)
		}
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

func (d *DB) DeleteEvent(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.EventAttendee)(nil)).
			Where("event_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete attendees: %w", err)
		}

		res, err := tx.NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// AddAttendee reserves a spot and records the attendance in one transaction.
// It returns false without error when the event is gone, full, no longer in
// the future, or the user already attends.
func (d *DB) AddAttendee(ctx context.Context, eventID, userID string, now time.Time) (bool, error) {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// The conditional update takes the row lock before membership is checked,
		// so concurrent joins for the same event are serialized here.
		res, err := tx.NewUpdate().
			Model((*models.Event)(nil)).
			Set("attendee_count = attendee_count + 1").
			Set("updated_at = ?", now).
			Where("id = ?", eventID).
			Where("event_date > ?", now).
			Where("(max_attendees IS NULL OR attendee_count < max_attendees)").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to reserve spot: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errNotApplied
		}

		exists, err := tx.NewSelect().
			Model((*models.EventAttendee)(nil)).
			Where("event_id = ?", eventID).
			Where("user_id = ?", userID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check attendance: %w", err)
		}
		if exists {
			return errNotApplied
		}

		_, err = tx.NewInsert().Model(&models.EventAttendee{
			EventID:  eventID,
			UserID:   userID,
			JoinedAt: now,
		}).Exec(ctx)
		if database.IsUniqueViolation(err) {
			return errNotApplied
		}
		if err != nil {
			return fmt.Errorf("failed to insert attendance: %w", err)
		}
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return false, nil
	}
	return err == nil, err
}

// RemoveAttendee releases the spot and deletes the attendance in one
// transaction. It returns false without error when the event is gone, no
// longer in the future, the user created it, or the user was not attending.
func (d *DB) RemoveAttendee(ctx context.Context, eventID, userID string, now time.Time) (bool, error) {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Event)(nil)).
			Set("attendee_count = attendee_count - 1").
			Set("updated_at = ?", now).
			Where("id = ?", eventID).
			Where("event_date > ?", now).
			Where("creator_id <> ?", userID).
			Where("attendee_count > 0").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to release spot: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errNotApplied
		}

		res, err = tx.NewDelete().
			Model((*models.EventAttendee)(nil)).
			Where("event_id = ?", eventID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete attendance: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errNotApplied
		}
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return false, nil
	}
	return err == nil, err
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func normalizeEvent(e *models.Event) {
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
}
