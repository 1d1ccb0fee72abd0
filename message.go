package deepwhisperer

import "time"

type ParseMode string

const (
	ParseModeMarkdown ParseMode = "Markdown"
	ParseModeHTML     ParseMode = "HTML"
	ParseModeNone     ParseMode = ""
)

// Message is one text notification. It is treated as immutable once
// constructed: the same content and target always map to the same cache
// key.
type Message struct {
	// ChatID is the target chat or channel. Empty means the configured
	// default chat.
	ChatID    string
	Text      string
	ParseMode ParseMode
}

// Result is the outcome of one delivery. Cached is set when it was served
// from the result cache instead of a network call.
type Result struct {
	OK         bool
	StatusCode int
	MessageID  int64
	Detail     string
	SentAt     time.Time
	Cached     bool
}

// MessageOpts tunes a queued text send.
type MessageOpts struct {
	ChatID    string
	ParseMode ParseMode
	// AllowDuplicates bypasses the dedup window.
	AllowDuplicates bool
}

// MediaOpts tunes a queued media or structured send.
type MediaOpts struct {
	ChatID              string
	Caption             string
	DisableNotification bool
	ReplyTo             int64
}

// Contact is a sendContact payload.
type Contact struct {
	PhoneNumber string
	FirstName   string
	LastName    string
	VCard       string
}

// Poll is a sendPoll payload. Type is "regular" or "quiz".
type Poll struct {
	Question              string
	Options               []string
	Anonymous             bool
	Type                  string
	AllowsMultipleAnswers bool
	CorrectOptionID       *int
	Explanation           string
}

// Venue is a sendVenue payload.
type Venue struct {
	Latitude        float64
	Longitude       float64
	Title           string
	Address         string
	FoursquareID    string
	FoursquareType  string
	GooglePlaceID   string
	GooglePlaceType string
}

// MediaItem is one element of a sendMediaGroup album. Media is a Telegram
// file id or URL.
type MediaItem struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}
