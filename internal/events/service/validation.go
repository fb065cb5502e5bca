package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"ms-events/internal/apperr"
	"ms-events/internal/models"
	"ms-events/internal/sanitize"
	"ms-events/internal/uploads"
	"ms-events/internal/utils"

	"github.com/google/uuid"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 2000
)

func parseEventID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.InvalidID("Invalid event id")
	}
	return nil
}

// fieldChange is one validated column write.
type fieldChange struct {
	column string
	apply  func(*models.Event)
}

// validatePatch sanitizes and validates every supplied field of patch.
// With requireAll set the five descriptive fields must be present and non-blank.
func validatePatch(patch models.EventPatch, requireAll bool, now time.Time) ([]fieldChange, error) {
	var changes []fieldChange
	var missing []string

	text := func(name string, value *string, clean func(string) string, maxLen int, set func(*models.Event, string)) error {
		if value == nil {
			if requireAll {
				missing = append(missing, name)
			}
			return nil
		}
		cleaned := clean(*value)
		if cleaned == "" {
			missing = append(missing, name)
			return nil
		}
		if maxLen > 0 && utf8.RuneCountInString(cleaned) > maxLen {
			return apperr.ValidationFields(fmt.Sprintf("%s cannot be more than %d characters", name, maxLen), name)
		}
		changes = append(changes, fieldChange{column: name, apply: func(e *models.Event) { set(e, cleaned) }})
		return nil
	}

	if err := text("title", patch.Title, sanitize.Text, maxTitleLength, func(e *models.Event, v string) { e.Title = v }); err != nil {
		return nil, err
	}
	if err := text("description", patch.Description, sanitize.HTML, maxDescriptionLength, func(e *models.Event, v string) { e.Description = v }); err != nil {
		return nil, err
	}
	if err := text("location", patch.Location, sanitize.Text, 0, func(e *models.Event, v string) { e.Location = v }); err != nil {
		return nil, err
	}

	rawDate := trimmed(patch.Date)
	if (rawDate == nil && requireAll) || (rawDate != nil && *rawDate == "") {
		missing = append(missing, "date")
	}
	rawCategory := trimmed(patch.Category)
	if (rawCategory == nil && requireAll) || (rawCategory != nil && *rawCategory == "") {
		missing = append(missing, "category")
	}

	if len(missing) > 0 {
		return nil, apperr.MissingField(missing...)
	}

	if rawCategory != nil {
		category := strings.ToLower(*rawCategory)
		if !models.IsCategory(category) {
			return nil, apperr.ValidationFields(
				fmt.Sprintf("category must be one of %s", strings.Join(models.Categories, ", ")), "category")
		}
		changes = append(changes, fieldChange{column: "category", apply: func(e *models.Event) { e.Category = category }})
	}

	if rawDate != nil {
		date, _, err := utils.ParseDate(*rawDate)
		if err != nil {
			return nil, apperr.ValidationFields("Invalid date", "date")
		}
		if !date.After(now) {
			return nil, apperr.InvalidDate("Event date must be in the future")
		}
		changes = append(changes, fieldChange{column: "event_date", apply: func(e *models.Event) { e.Date = date }})
	}

	if patch.MaxAttendees != nil {
		limit, err := parseMaxAttendees(*patch.MaxAttendees)
		if err != nil {
			return nil, err
		}
		changes = append(changes, fieldChange{column: "max_attendees", apply: func(e *models.Event) { e.MaxAttendees = limit }})
	}

	if patch.ImageURL != nil {
		imageURL := strings.TrimSpace(*patch.ImageURL)
		if !validImageURL(imageURL) {
			return nil, apperr.ValidationFields("imageUrl must be an uploaded image or an http(s) URL", "imageUrl")
		}
		changes = append(changes, fieldChange{column: "image_url", apply: func(e *models.Event) { e.ImageURL = imageURL }})
	}

	return changes, nil
}

// parseMaxAttendees returns nil for an explicit "no limit".
func parseMaxAttendees(raw string) (*int, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "null", "unlimited":
		return nil, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return nil, apperr.ValidationFields("maxAttendees must be a positive whole number", "maxAttendees")
	}
	return &limit, nil
}

func validImageURL(value string) bool {
	if value == "" || strings.HasPrefix(value, uploads.PublicPrefix) {
		return true
	}
	u, err := url.Parse(value)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	t := strings.TrimSpace(*value)
	return &t
}

// parseFilter validates the raw list query.
func parseFilter(q models.EventQuery) (models.EventFilter, error) {
	filter := models.EventFilter{
		Category: strings.ToLower(strings.TrimSpace(q.Category)),
		Search:   strings.TrimSpace(q.Search),
	}

	if raw := strings.TrimSpace(q.StartDate); raw != "" {
		start, _, err := utils.ParseDate(raw)
		if err != nil {
			return filter, apperr.ValidationFields("Invalid startDate", "startDate")
		}
		filter.StartDate = &start
	}
	if raw := strings.TrimSpace(q.EndDate); raw != "" {
		end, dateOnly, err := utils.ParseDate(raw)
		if err != nil {
			return filter, apperr.ValidationFields("Invalid endDate", "endDate")
		}
		if dateOnly {
			end = utils.EndOfDay(end)
		}
		filter.EndDate = &end
	}
	if raw := strings.TrimSpace(q.Creator); raw != "" {
		if _, err := uuid.Parse(raw); err != nil {
			return filter, apperr.InvalidID("Invalid creator id")
		}
		filter.CreatorID = raw
	}
	return filter, nil
}
