package articles

import "time"

// Article is a scheduled calendar event tagged with a purpose. Who can
// see or change it is decided entirely by the purpose's member sets.
type Article struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	EventLink         string    `json:"event_link,omitempty"`
	EventTime         time.Time `json:"event_time"`
	Duration          string    `json:"duration,omitempty"`
	PurposeName       string    `json:"purpose_name"`
	OrganizerID       int64     `json:"organizer_id,omitempty"`
	MeetingID         string    `json:"meeting_id,omitempty"`
	Passcode          string    `json:"passcode,omitempty"`
	Speaker           string    `json:"speaker,omitempty"`
	Location          string    `json:"location,omitempty"`
	AdditionalDetails string    `json:"additional_details,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateRequest is the payload for creating an article.
type CreateRequest struct {
	Title             string    `json:"title"`
	EventLink         string    `json:"event_link"`
	EventTime         time.Time `json:"event_time"`
	Duration          string    `json:"duration"`
	PurposeName       string    `json:"purpose_name"`
	MeetingID         string    `json:"meeting_id"`
	Passcode          string    `json:"passcode"`
	Speaker           string    `json:"speaker"`
	Location          string    `json:"location"`
	AdditionalDetails string    `json:"additional_details"`
}

// UpdateRequest is the payload for updating an article. Nil fields are
// left untouched; PurposeName cannot change after creation.
type UpdateRequest struct {
	Title             *string    `json:"title,omitempty"`
	EventLink         *string    `json:"event_link,omitempty"`
	EventTime         *time.Time `json:"event_time,omitempty"`
	Duration          *string    `json:"duration,omitempty"`
	MeetingID         *string    `json:"meeting_id,omitempty"`
	Passcode          *string    `json:"passcode,omitempty"`
	Speaker           *string    `json:"speaker,omitempty"`
	Location          *string    `json:"location,omitempty"`
	AdditionalDetails *string    `json:"additional_details,omitempty"`
}

// MaxTitleLength bounds article titles, matching the column width.
const MaxTitleLength = 250
