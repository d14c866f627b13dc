package admission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"wisdombot/internal/transport"
)

// TokenPrefix marks callback data that belongs to the admission workflow.
const TokenPrefix = "captcha:"

var ErrBadToken = errors.New("malformed challenge token")

// NewToken binds a fresh single-use nonce to user. The result stays well under
// Telegram's 64-byte callback data limit.
func NewToken(user transport.ChatID) string {
	return FormatToken(user, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func FormatToken(user transport.ChatID, nonce string) string {
	return TokenPrefix + user.String() + ":" + nonce
}

// ParseToken returns the user id embedded in a token.
func ParseToken(s string) (transport.ChatID, error) {
	rest, ok := strings.CutPrefix(s, TokenPrefix)
	if !ok {
		return 0, ErrBadToken
	}
	idPart, nonce, ok := strings.Cut(rest, ":")
	if !ok || nonce == "" {
		return 0, ErrBadToken
	}
	id, err := transport.ParseChatID(idPart)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return id, nil
}
