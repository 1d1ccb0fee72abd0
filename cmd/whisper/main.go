// Command whisper sends a one-shot Telegram notification using
// credentials from the environment (or a .env file).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/deepwhisperer/deepwhisperer"
)

func main() {
	var (
		text     = flag.String("text", "", "text message to send")
		photo    = flag.String("photo", "", "path of a photo to send")
		document = flag.String("document", "", "path of a document to send")
		caption  = flag.String("caption", "", "caption for -photo or -document")
		chat     = flag.String("chat", "", "chat id override (default from DEEP_WHISPERER_CHAT_ID or discovery)")
		timeout  = flag.Duration("timeout", 30*time.Second, "overall send timeout")
	)
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*text, *photo, *document, *caption, *chat, *timeout); err != nil {
		log.Fatal(err)
	}
}

func run(text, photo, document, caption, chat string, timeout time.Duration) error {
	if err := validateArgs(text, photo, document); err != nil {
		return err
	}

	cfg, err := deepwhisperer.FromEnv()
	if err != nil {
		return err
	}
	if chat != "" {
		cfg.ChatID = chat
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := deepwhisperer.New(ctx, cfg)
	if err != nil {
		return err
	}

	if text != "" {
		if err := n.SendMessage(text, nil); err != nil {
			return err
		}
	}
	if photo != "" {
		if err := n.SendPhoto(photo, &deepwhisperer.MediaOpts{Caption: caption}); err != nil {
			return err
		}
	}
	if document != "" {
		if err := n.SendDocument(document, &deepwhisperer.MediaOpts{Caption: caption}); err != nil {
			return err
		}
	}

	return n.Stop(ctx)
}

func validateArgs(text, photo, document string) error {
	if text == "" && photo == "" && document == "" {
		return errors.New("nothing to send: pass -text, -photo or -document")
	}
	return nil
}
