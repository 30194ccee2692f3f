// Package sse implements Server-Sent Events for real-time catalog updates.
package sse

import (
	"time"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/safety"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventProductCreated is sent when a product is provisioned or imported.
	EventProductCreated EventType = "product.created"
	// EventProductUpdated is sent when a product's display fields change.
	EventProductUpdated EventType = "product.updated"
	// EventProductLinksChanged is sent when a product's ingredient links change.
	EventProductLinksChanged EventType = "product.links_changed"
	// EventProductScoreUpdated is sent when the recompute engine writes a new score.
	EventProductScoreUpdated EventType = "product.score_updated"
	// EventProductDeleted is sent when a product is removed.
	EventProductDeleted EventType = "product.deleted"

	// EventIngredientCreated is sent when an ingredient is added.
	EventIngredientCreated EventType = "ingredient.created"
	// EventIngredientUpdated is sent when an ingredient changes.
	EventIngredientUpdated EventType = "ingredient.updated"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
// The Data field contains the event payload as a JSON object for direct deserialization.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`

	// ProductIDs limits delivery to clients watching one of these products.
	// Clients watching nothing receive every event.
	ProductIDs []string `json:"-"`
}

// ProductEventData is the data payload for product create, update and link events.
type ProductEventData struct {
	Product *domain.Product    `json:"product"`
	Origin  domain.WriteOrigin `json:"origin"`
}

// ScoreEventData is the data payload for score updates.
type ScoreEventData struct {
	PreviousScore *float64     `json:"previousScore,omitempty"`
	SafetyScore   float64      `json:"safetyScore"`
	ProductID     string       `json:"productId"`
	SafetyColor   safety.Color `json:"safetyColor"`
	PreviousColor safety.Color `json:"previousColor,omitempty"`
}

// ProductDeletedEventData is the data payload for product delete events.
type ProductDeletedEventData struct {
	DeletedAt time.Time `json:"deletedAt"`
	ProductID string    `json:"productId"`
}

// IngredientEventData is the data payload for ingredient events.
type IngredientEventData struct {
	Ingredient *domain.Ingredient `json:"ingredient"`
	ProductIDs []string           `json:"productIds,omitempty"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"serverTime"`
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Data:      HeartbeatEventData{ServerTime: now},
		Timestamp: now,
	}
}

// FromProductWrite maps a store write to the event clients see.
func FromProductWrite(w domain.ProductWrite) Event {
	ev := Event{Timestamp: w.At, ProductIDs: []string{w.ProductID}}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch {
	case w.IsDelete():
		ev.Type = EventProductDeleted
		ev.Data = ProductDeletedEventData{ProductID: w.ProductID, DeletedAt: ev.Timestamp}
	case w.Kind == domain.WriteCreated:
		ev.Type = EventProductCreated
		ev.Data = ProductEventData{Product: w.After, Origin: w.Origin}
	case w.Origin == domain.OriginScoreEngine:
		ev.Type = EventProductScoreUpdated
		data := ScoreEventData{ProductID: w.ProductID}
		if s, ok := w.After.Score(); ok {
			data.SafetyScore = s.Value
			data.SafetyColor = s.Color
		}
		if s, ok := w.Before.Score(); ok {
			v := s.Value
			data.PreviousScore = &v
			data.PreviousColor = s.Color
		}
		ev.Data = data
	case w.Origin == domain.OriginLinkChange, w.Origin == domain.OriginIngredientChange:
		ev.Type = EventProductLinksChanged
		ev.Data = ProductEventData{Product: w.After, Origin: w.Origin}
	default:
		ev.Type = EventProductUpdated
		ev.Data = ProductEventData{Product: w.After, Origin: w.Origin}
	}
	return ev
}

// FromIngredientWrite maps an ingredient write to the event clients see.
func FromIngredientWrite(w domain.IngredientWrite) Event {
	ev := Event{
		Type:       EventIngredientUpdated,
		Timestamp:  w.At,
		Data:       IngredientEventData{Ingredient: w.After, ProductIDs: w.ProductIDs},
		ProductIDs: w.ProductIDs,
	}
	if w.Kind == domain.WriteCreated {
		ev.Type = EventIngredientCreated
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}
