package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Size limits for chat requests
const (
	MaxInputChars   = 32000
	MaxContextChars = 100000
	MaxTitleChars   = 200
	MaxMemoryChars  = 1000
	MaxImageBytes   = 10 << 20
)

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidateInput bounds the user input. Empty input is allowed; generation
// treats it as a no-op.
func (v *ChatRequestValidator) ValidateInput(input string) error {
	if n := utf8.RuneCountInString(input); n > MaxInputChars {
		return fmt.Errorf("input must be at most %d characters, got %d", MaxInputChars, n)
	}
	return nil
}

// ValidateContext bounds the optional context text
func (v *ChatRequestValidator) ValidateContext(context string) error {
	if n := utf8.RuneCountInString(context); n > MaxContextChars {
		return fmt.Errorf("context must be at most %d characters, got %d", MaxContextChars, n)
	}
	return nil
}

// ValidateImage accepts an empty value, an http(s) URL or a base64 image data URL
func (v *ChatRequestValidator) ValidateImage(image string) error {
	if image == "" {
		return nil // Image is optional
	}

	if len(image) > MaxImageBytes {
		return fmt.Errorf("image must be at most %d bytes", MaxImageBytes)
	}

	switch {
	case strings.HasPrefix(image, "data:image/"):
		if !strings.Contains(image, ";base64,") {
			return errors.New("image data URL must be base64 encoded")
		}
		return nil
	case strings.HasPrefix(image, "https://"), strings.HasPrefix(image, "http://"):
		return nil
	default:
		return errors.New("image must be an http(s) URL or a data:image URL")
	}
}

// ValidateGenerateRequest validates a complete generation request
func (v *ChatRequestValidator) ValidateGenerateRequest(input, context, image string) error {
	if err := v.ValidateInput(input); err != nil {
		return err
	}

	if err := v.ValidateContext(context); err != nil {
		return err
	}

	if err := v.ValidateImage(image); err != nil {
		return err
	}

	return nil
}

// ValidateTitle validates a session title
func (v *ChatRequestValidator) ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleChars {
		return fmt.Errorf("title must be at most %d characters, got %d", MaxTitleChars, n)
	}
	return nil
}

// ValidateMemory validates a memory fact
func (v *ChatRequestValidator) ValidateMemory(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("memory cannot be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxMemoryChars {
		return fmt.Errorf("memory must be at most %d characters, got %d", MaxMemoryChars, n)
	}
	return nil
}

// ValidateAPIKey validates a provider credential
func (v *ChatRequestValidator) ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key cannot be empty")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return errors.New("api key cannot contain whitespace")
	}
	return nil
}
