package domain

import "time"

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
)

// EntryPayload is the snapshot of the timed work entry carried by a webhook
// delivery. TagIDs preserves no order; membership is what matters.
type EntryPayload struct {
	Description string   `json:"description"`
	TagIDs      []string `json:"tagIds"`
	ProjectID   string   `json:"projectId"`
	Billable    bool     `json:"billable"`
}

type WebhookEvent struct {
	ID         string       `json:"id"`
	Type       EventType    `json:"type"`
	TenantID   string       `json:"tenantId"`
	EntityID   string       `json:"entityId"`
	OccurredAt time.Time    `json:"occurredAt"`
	Payload    EntryPayload `json:"payload"`
}

func (e WebhookEvent) HasTag(tagID string) bool {
	for _, id := range e.Payload.TagIDs {
		if id == tagID {
			return true
		}
	}
	return false
}
