package event_api

import (
	"fmt"
	"strconv"

	"ms-events/internal/apperr"
	"ms-events/internal/models"
)

// patchFields lists the client-settable fields. The image URL is only set by
// an accepted upload.
func patchFields(p *models.EventPatch) map[string]**string {
	return map[string]**string{
		"title":        &p.Title,
		"description":  &p.Description,
		"date":         &p.Date,
		"location":     &p.Location,
		"category":     &p.Category,
		"maxAttendees": &p.MaxAttendees,
	}
}

// patchFromValues reads the allow-listed keys of a form. Unknown keys are ignored.
func patchFromValues(values map[string][]string) models.EventPatch {
	var patch models.EventPatch
	for key, field := range patchFields(&patch) {
		if v, ok := values[key]; ok && len(v) > 0 {
			value := v[0]
			*field = &value
		}
	}
	return patch
}

// patchFromJSON reads the allow-listed keys of a decoded JSON object. null
// becomes the empty string so that clearing a field is explicit.
func patchFromJSON(body map[string]any) (models.EventPatch, error) {
	var patch models.EventPatch
	for key, field := range patchFields(&patch) {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var value string
		switch v := raw.(type) {
		case nil:
		case string:
			value = v
		case float64:
			value = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			value = strconv.FormatBool(v)
		default:
			return models.EventPatch{}, apperr.ValidationFields(fmt.Sprintf("%s has an unsupported type", key), key)
		}
		*field = &value
	}
	return patch, nil
}
