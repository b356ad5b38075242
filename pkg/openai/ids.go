package openai

import (
	"strings"

	"github.com/google/uuid"
)

// NewChatCompletionID returns an id of the form "chatcmpl-<32 hex chars>".
func NewChatCompletionID() string {
	return "chatcmpl-" + randomHex()
}

// NewCompletionID returns an id of the form "cmpl-<32 hex chars>".
func NewCompletionID() string {
	return "cmpl-" + randomHex()
}

func randomHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
