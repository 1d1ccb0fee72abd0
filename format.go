package deepwhisperer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"
)

const (
	title           = "DeepWhisperer"
	titlePrefix     = "≪"
	titleSuffix     = "≫"
	timestampPrefix = "⏳"
	timestampSuffix = "⏳"
)

var connectionMessages = []string{
	"The whisper line is open.",
	"Connection established. Listening for news.",
	"DeepWhisperer reporting for duty.",
	"Channel secured. Notifications will follow.",
}

func greeting() string {
	return connectionMessages[rand.Intn(len(connectionMessages))]
}

func formattedTitle() string {
	return fmt.Sprintf("%s %s %s", titlePrefix, title, titleSuffix)
}

func formattedTimestamp(now time.Time) string {
	return fmt.Sprintf("%s %s | GMT %s", timestampPrefix, now.UTC().Format("2006-01-02 | 15:04:05"), timestampSuffix)
}

// frameMessage wraps a body with the title line and a GMT timestamp line.
func frameMessage(body string, now time.Time) string {
	return fmt.Sprintf("%s\n%s\n%s", formattedTitle(), body, formattedTimestamp(now))
}

// cacheKey derives the dedup/result-cache key from the raw content and its
// target. The framing is deliberately excluded: it embeds a timestamp,
// which would make every send unique.
func cacheKey(chatID string, parseMode ParseMode, text string) string {
	h := sha256.New()
	h.Write([]byte(chatID))
	h.Write([]byte{'|'})
	h.Write([]byte(parseMode))
	h.Write([]byte{'|'})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
