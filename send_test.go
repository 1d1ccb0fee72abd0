package deepwhisperer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturedRequest struct {
	endpoint string
	// fields holds multipart form values; payload holds decoded JSON.
	fields   map[string]string
	payload  map[string]any
	fileName string
	fileMIME string
	fileData []byte
}

// recordingAPI captures every request so tests can assert on the exact
// wire payload, multipart uploads included.
type recordingAPI struct {
	mu   sync.Mutex
	reqs []capturedRequest
}

func (a *recordingAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cr := capturedRequest{endpoint: r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cr.fields = make(map[string]string)
			for k, vs := range r.MultipartForm.Value {
				if len(vs) > 0 {
					cr.fields[k] = vs[0]
				}
			}
			for _, hdrs := range r.MultipartForm.File {
				f, err := hdrs[0].Open()
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				cr.fileData, _ = io.ReadAll(f)
				_ = f.Close()
				cr.fileName = hdrs[0].Filename
				cr.fileMIME = hdrs[0].Header.Get("Content-Type")
			}
		} else {
			_ = json.NewDecoder(r.Body).Decode(&cr.payload)
		}

		a.mu.Lock()
		a.reqs = append(a.reqs, cr)
		a.mu.Unlock()

		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})
}

func (a *recordingAPI) byEndpoint(endpoint string) []capturedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []capturedRequest
	for _, r := range a.reqs {
		if r.endpoint == endpoint {
			out = append(out, r)
		}
	}
	return out
}

func startRecordingNotifier(t *testing.T) (*Notifier, *recordingAPI) {
	t.Helper()

	api := &recordingAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	n, err := New(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.Stop(ctx)
	})
	return n, api
}

func waitForRequest(t *testing.T, api *recordingAPI, endpoint string) capturedRequest {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reqs := api.byEndpoint(endpoint); len(reqs) > 0 {
			return reqs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a %s request", endpoint)
	return capturedRequest{}
}

func TestSendPhoto_UploadsMultipart(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	data := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	path := filepath.Join(t.TempDir(), "sunset.png")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if err := n.SendPhoto(path, &MediaOpts{Caption: "evening sky"}); err != nil {
		t.Fatalf("SendPhoto() error: %v", err)
	}

	req := waitForRequest(t, api, "sendPhoto")
	if req.fields["chat_id"] != "123" {
		t.Fatalf("expected default chat_id 123, got %q", req.fields["chat_id"])
	}
	caption := req.fields["caption"]
	if !strings.Contains(caption, "evening sky") || !strings.Contains(caption, title) {
		t.Fatalf("expected framed caption, got %q", caption)
	}
	if req.fileName != "sunset.png" {
		t.Fatalf("expected filename sunset.png, got %q", req.fileName)
	}
	if req.fileMIME != "photo/png" {
		t.Fatalf("expected MIME photo/png, got %q", req.fileMIME)
	}
	if !bytes.Equal(req.fileData, data) {
		t.Fatalf("uploaded bytes differ from the source file")
	}
}

func TestSendDocument_MissingFile(t *testing.T) {
	t.Parallel()

	n, _ := startRecordingNotifier(t)

	err := n.SendDocument(filepath.Join(t.TempDir(), "nope.pdf"), nil)
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped os.ErrNotExist, got: %v", err)
	}
}

func TestSendVideoNote_HasNoCaption(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	path := filepath.Join(t.TempDir(), "note.mp4")
	if err := os.WriteFile(path, []byte("clip"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if err := n.SendVideoNote(path, &MediaOpts{Caption: "ignored"}); err != nil {
		t.Fatalf("SendVideoNote() error: %v", err)
	}

	req := waitForRequest(t, api, "sendVideoNote")
	if _, ok := req.fields["caption"]; ok {
		t.Fatalf("video notes must not carry a caption, got %q", req.fields["caption"])
	}
	if req.fileMIME != "video_note/mp4" {
		t.Fatalf("expected MIME video_note/mp4, got %q", req.fileMIME)
	}
}

func TestSendLocation_Payload(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	if err := n.SendLocation(47.4979, 19.0402, &MediaOpts{DisableNotification: true}); err != nil {
		t.Fatalf("SendLocation() error: %v", err)
	}

	req := waitForRequest(t, api, "sendLocation")
	if lat, _ := req.payload["latitude"].(float64); lat != 47.4979 {
		t.Fatalf("expected latitude 47.4979, got %v", req.payload["latitude"])
	}
	if lon, _ := req.payload["longitude"].(float64); lon != 19.0402 {
		t.Fatalf("expected longitude 19.0402, got %v", req.payload["longitude"])
	}
	if dn, _ := req.payload["disable_notification"].(bool); !dn {
		t.Fatalf("expected disable_notification true")
	}
	if chat, _ := req.payload["chat_id"].(string); chat != "123" {
		t.Fatalf("expected default chat_id 123, got %q", chat)
	}
}

func TestSendContact_OptionalFieldsOmitted(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	if err := n.SendContact(Contact{PhoneNumber: "+3611234567", FirstName: "Anna"}, nil); err != nil {
		t.Fatalf("SendContact() error: %v", err)
	}

	req := waitForRequest(t, api, "sendContact")
	if req.payload["phone_number"] != "+3611234567" || req.payload["first_name"] != "Anna" {
		t.Fatalf("unexpected contact payload: %v", req.payload)
	}
	if _, ok := req.payload["last_name"]; ok {
		t.Fatalf("empty last_name must be omitted")
	}
	if _, ok := req.payload["vcard"]; ok {
		t.Fatalf("empty vcard must be omitted")
	}
}

func TestSendPoll_Defaults(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	correct := 1
	poll := Poll{
		Question:        "Deploy on Friday?",
		Options:         []string{"yes", "no"},
		Type:            "quiz",
		CorrectOptionID: &correct,
		Explanation:     "never",
	}
	if err := n.SendPoll(poll, nil); err != nil {
		t.Fatalf("SendPoll() error: %v", err)
	}
	if err := n.SendPoll(Poll{Question: "Lunch?", Options: []string{"now", "later"}}, nil); err != nil {
		t.Fatalf("SendPoll() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(api.byEndpoint("sendPoll")) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	polls := api.byEndpoint("sendPoll")
	if len(polls) != 2 {
		t.Fatalf("expected 2 sendPoll requests, got %d", len(polls))
	}

	var quiz, regular capturedRequest
	for _, p := range polls {
		if p.payload["type"] == "quiz" {
			quiz = p
		} else {
			regular = p
		}
	}

	if got, _ := quiz.payload["correct_option_id"].(float64); got != 1 {
		t.Fatalf("expected correct_option_id 1, got %v", quiz.payload["correct_option_id"])
	}
	if quiz.payload["explanation"] != "never" {
		t.Fatalf("expected explanation, got %v", quiz.payload["explanation"])
	}

	if regular.payload["type"] != "regular" {
		t.Fatalf("expected default poll type regular, got %v", regular.payload["type"])
	}
	if _, ok := regular.payload["correct_option_id"]; ok {
		t.Fatalf("correct_option_id must be omitted when unset")
	}
}

func TestSendVenue_Payload(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	venue := Venue{
		Latitude:  47.5,
		Longitude: 19.05,
		Title:     "Office",
		Address:   "Main street 1",
	}
	if err := n.SendVenue(venue, &MediaOpts{ReplyTo: 42}); err != nil {
		t.Fatalf("SendVenue() error: %v", err)
	}

	req := waitForRequest(t, api, "sendVenue")
	if req.payload["title"] != "Office" || req.payload["address"] != "Main street 1" {
		t.Fatalf("unexpected venue payload: %v", req.payload)
	}
	if got, _ := req.payload["reply_to_message_id"].(float64); got != 42 {
		t.Fatalf("expected reply_to_message_id 42, got %v", req.payload["reply_to_message_id"])
	}
	if _, ok := req.payload["foursquare_id"]; ok {
		t.Fatalf("empty foursquare_id must be omitted")
	}
}

func TestSendMediaGroup(t *testing.T) {
	t.Parallel()

	n, api := startRecordingNotifier(t)

	if err := n.SendMediaGroup(nil, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage for an empty album, got: %v", err)
	}

	media := []MediaItem{
		{Type: "photo", Media: "https://example.com/a.jpg", Caption: "first"},
		{Type: "photo", Media: "https://example.com/b.jpg"},
	}
	if err := n.SendMediaGroup(media, nil); err != nil {
		t.Fatalf("SendMediaGroup() error: %v", err)
	}

	req := waitForRequest(t, api, "sendMediaGroup")
	items, ok := req.payload["media"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected a 2-item media array, got %v", req.payload["media"])
	}
	first, _ := items[0].(map[string]any)
	if first["type"] != "photo" || first["media"] != "https://example.com/a.jpg" || first["caption"] != "first" {
		t.Fatalf("unexpected media item: %v", first)
	}
}
