package model

import "time"

// EventRequest describes a calendar event to create for a confirmed block.
type EventRequest struct {
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
	// PrivateMetadata is stored as private extended properties on the event.
	PrivateMetadata map[string]string
}

// CreatedEvent is the calendar's answer to an EventRequest.
type CreatedEvent struct {
	ID       string
	HTMLLink string
}
