package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"pairchat/pkg/models"
)

const (
	// MaxContentLen bounds a single message body.
	MaxContentLen = 4096
	// MaxEmojiLen bounds a reaction token; emoji sequences can span
	// several runes (skin tones, ZWJ sequences).
	MaxEmojiLen = 32
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrSelfMessage  = errors.New("sender and receiver are the same user")
	ErrKindMismatch = errors.New("content type does not match attachment presence")
)

// ValidateSend checks a new outbound message before it is persisted. Media
// messages may have empty text as long as a media URL is attached.
func ValidateSend(sender, receiver, content, mediaURL string) error {
	if sender == "" {
		return errors.New("sender is required")
	}
	if receiver == "" {
		return errors.New("receiver is required")
	}
	if sender == receiver {
		return ErrSelfMessage
	}
	if strings.TrimSpace(content) == "" && mediaURL == "" {
		return ErrEmptyContent
	}
	return ValidateContent(content)
}

// ValidateContent checks edited or original message text.
func ValidateContent(content string) error {
	if len(content) > MaxContentLen {
		return fmt.Errorf("message content exceeds %d bytes", MaxContentLen)
	}
	if content != "" && !utf8.ValidString(content) {
		return errors.New("message content is not valid utf-8")
	}
	return nil
}

// ValidateEmoji checks a reaction token.
func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return errors.New("emoji is required")
	}
	if len(emoji) > MaxEmojiLen {
		return fmt.Errorf("emoji exceeds %d bytes", MaxEmojiLen)
	}
	if !utf8.ValidString(emoji) {
		return errors.New("emoji is not valid utf-8")
	}
	return nil
}

// ValidateContentType checks the declared kind of a message against the
// attachment it claims. Empty means "infer from the attachment"; otherwise
// the kind must be text exactly when no media URL is present.
func ValidateContentType(ct models.ContentType, mediaURL string) error {
	switch ct {
	case "":
		return nil
	case models.ContentText:
		if mediaURL != "" {
			return ErrKindMismatch
		}
		return nil
	case models.ContentImage, models.ContentVideo:
		if mediaURL == "" {
			return ErrKindMismatch
		}
		return nil
	}
	return fmt.Errorf("unknown content type %q", ct)
}
