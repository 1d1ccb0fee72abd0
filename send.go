package deepwhisperer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deepwhisperer/deepwhisperer/telegram"
)

// SendPhoto queues a photo upload. The file is read into memory at
// enqueue time so a retry can resend the same bytes.
func (n *Notifier) SendPhoto(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendPhoto, "photo", opts, true)
}

// SendDocument queues a document upload.
func (n *Notifier) SendDocument(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendDocument, "document", opts, true)
}

// SendVideo queues a video upload.
func (n *Notifier) SendVideo(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendVideo, "video", opts, true)
}

// SendAudio queues an audio upload.
func (n *Notifier) SendAudio(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendAudio, "audio", opts, true)
}

// SendVoice queues a voice message upload.
func (n *Notifier) SendVoice(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendVoice, "voice", opts, true)
}

// SendAnimation queues an animation (GIF) upload.
func (n *Notifier) SendAnimation(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendAnimation, "animation", opts, true)
}

// SendVideoNote queues a video note upload. Video notes do not support
// captions.
func (n *Notifier) SendVideoNote(path string, opts *MediaOpts) error {
	return n.sendMedia(path, telegram.EndpointSendVideoNote, "video_note", opts, false)
}

func (n *Notifier) sendMedia(path, endpoint, mediaType string, opts *MediaOpts, caption bool) error {
	var o MediaOpts
	if opts != nil {
		o = *opts
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("deepwhisperer: reading %s: %w", mediaType, err)
	}

	payload := n.basePayload(o)
	if caption {
		payload["caption"] = frameMessage(o.Caption, time.Now())
	}

	mime := "application/octet-stream"
	if ext := filepath.Ext(path); ext != "" {
		mime = mediaType + "/" + ext[1:]
	}

	return n.enqueue(item{
		endpoint: endpoint,
		payload:  payload,
		file: &telegram.File{
			Field: mediaType,
			Name:  filepath.Base(path),
			MIME:  mime,
			Data:  data,
		},
	})
}

// SendMediaGroup queues an album of already-uploaded media (file ids or
// URLs).
func (n *Notifier) SendMediaGroup(media []MediaItem, opts *MediaOpts) error {
	if len(media) == 0 {
		return ErrEmptyMessage
	}
	var o MediaOpts
	if opts != nil {
		o = *opts
	}

	payload := n.basePayload(o)
	payload["media"] = media

	return n.enqueue(item{endpoint: telegram.EndpointSendMediaGroup, payload: payload})
}

// SendLocation queues a location message.
func (n *Notifier) SendLocation(latitude, longitude float64, opts *MediaOpts) error {
	var o MediaOpts
	if opts != nil {
		o = *opts
	}

	payload := n.basePayload(o)
	payload["latitude"] = latitude
	payload["longitude"] = longitude

	return n.enqueue(item{endpoint: telegram.EndpointSendLocation, payload: payload})
}

// SendContact queues a contact card.
func (n *Notifier) SendContact(c Contact, opts *MediaOpts) error {
	var o MediaOpts
	if opts != nil {
		o = *opts
	}

	payload := n.basePayload(o)
	payload["phone_number"] = c.PhoneNumber
	payload["first_name"] = c.FirstName
	if c.LastName != "" {
		payload["last_name"] = c.LastName
	}
	if c.VCard != "" {
		payload["vcard"] = c.VCard
	}

	return n.enqueue(item{endpoint: telegram.EndpointSendContact, payload: payload})
}

// SendPoll queues a poll.
func (n *Notifier) SendPoll(p Poll, opts *MediaOpts) error {
	var o MediaOpts
	if opts != nil {
		o = *opts
	}

	pollType := p.Type
	if pollType == "" {
		pollType = "regular"
	}

	payload := n.basePayload(o)
	payload["question"] = p.Question
	payload["options"] = p.Options
	payload["is_anonymous"] = p.Anonymous
	payload["type"] = pollType
	payload["allows_multiple_answers"] = p.AllowsMultipleAnswers
	if p.CorrectOptionID != nil {
		payload["correct_option_id"] = *p.CorrectOptionID
	}
	if p.Explanation != "" {
		payload["explanation"] = p.Explanation
	}

	return n.enqueue(item{endpoint: telegram.EndpointSendPoll, payload: payload})
}

// SendVenue queues a venue message.
func (n *Notifier) SendVenue(v Venue, opts *MediaOpts) error {
	var o MediaOpts
	if opts != nil {
		o = *opts
	}

	payload := n.basePayload(o)
	payload["latitude"] = v.Latitude
	payload["longitude"] = v.Longitude
	payload["title"] = v.Title
	payload["address"] = v.Address
	if v.FoursquareID != "" {
		payload["foursquare_id"] = v.FoursquareID
	}
	if v.FoursquareType != "" {
		payload["foursquare_type"] = v.FoursquareType
	}
	if v.GooglePlaceID != "" {
		payload["google_place_id"] = v.GooglePlaceID
	}
	if v.GooglePlaceType != "" {
		payload["google_place_type"] = v.GooglePlaceType
	}

	return n.enqueue(item{endpoint: telegram.EndpointSendVenue, payload: payload})
}

func (n *Notifier) basePayload(o MediaOpts) map[string]any {
	chat := o.ChatID
	if chat == "" {
		chat = n.cfg.ChatID
	}

	payload := map[string]any{"chat_id": chat}
	if o.DisableNotification {
		payload["disable_notification"] = true
	}
	if o.ReplyTo != 0 {
		payload["reply_to_message_id"] = o.ReplyTo
	}
	return payload
}
