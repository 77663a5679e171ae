package domain

import (
	"encoding/json"
	"strings"
)

// EventTypeUnknown is the fallback type for payloads that match no known
// shape. Classification degrades to it instead of failing ingestion.
const EventTypeUnknown = "unknown.event"

// PayloadShape tags the closed set of recognised payload shapes.
type PayloadShape int

const (
	ShapeUnknown PayloadShape = iota
	ShapeChange               // row-change events: {type, table, schema, ...}
	ShapeCustom               // application events: {event: "..."}
)

// ChangePayload is a CRUD-style row-change notification.
type ChangePayload struct {
	Type   string `json:"type"` // INSERT, UPDATE, DELETE
	Table  string `json:"table"`
	Schema string `json:"schema"`
}

// CustomPayload carries a verbatim application event name.
type CustomPayload struct {
	Event string `json:"event"`
}

// ClassifiedPayload is the tagged union produced once at ingestion.
type ClassifiedPayload struct {
	Shape  PayloadShape
	Change *ChangePayload
	Custom *CustomPayload
}

var changeActions = map[string]string{
	"INSERT": "created",
	"UPDATE": "updated",
	"DELETE": "deleted",
}

// ClassifyPayload inspects raw JSON and classifies it into one of the known
// shapes. It never fails: malformed or unrecognised payloads classify as
// ShapeUnknown.
func ClassifyPayload(raw []byte) ClassifiedPayload {
	var probe struct {
		Type  string `json:"type"`
		Table string `json:"table"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ClassifiedPayload{Shape: ShapeUnknown}
	}

	if probe.Table != "" {
		if _, ok := changeActions[probe.Type]; ok {
			var change ChangePayload
			_ = json.Unmarshal(raw, &change)
			return ClassifiedPayload{Shape: ShapeChange, Change: &change}
		}
	}

	if probe.Event != "" {
		return ClassifiedPayload{Shape: ShapeCustom, Custom: &CustomPayload{Event: probe.Event}}
	}

	return ClassifiedPayload{Shape: ShapeUnknown}
}

// EventType renders the classification as a dotted event type:
// "<table>.<action>" for change events, the verbatim event name for custom
// events, and EventTypeUnknown otherwise.
func (c ClassifiedPayload) EventType() string {
	switch c.Shape {
	case ShapeChange:
		return strings.ToLower(c.Change.Table) + "." + changeActions[c.Change.Type]
	case ShapeCustom:
		return c.Custom.Event
	default:
		return EventTypeUnknown
	}
}
