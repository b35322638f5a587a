package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// DefaultMaxQueryLength caps the query in runes.
const DefaultMaxQueryLength = 4000

// ErrNoMessage is returned when the context carries no user text.
var ErrNoMessage = errors.New("message is required")

// PreprocessHandler turns the raw message into a normalized query: trimmed,
// whitespace collapsed and truncated to MaxLength runes.
type PreprocessHandler struct {
	MaxLength int
}

func newPreprocess(cfg map[string]any) (pipeline.Handler, error) {
	h := &PreprocessHandler{MaxLength: DefaultMaxQueryLength}
	n, ok, err := configInt(cfg, "max_length")
	if err != nil {
		return nil, err
	}
	if ok {
		if n <= 0 {
			return nil, fmt.Errorf("max_length must be positive, got %d", n)
		}
		h.MaxLength = n
	}
	return h, nil
}

// ValidateInput requires a non-blank message.
func (h *PreprocessHandler) ValidateInput(ec *pipeline.ExecutionContext) error {
	if strings.TrimSpace(ec.GetString(KeyMessage)) == "" {
		return ErrNoMessage
	}
	return nil
}

// RetrySafe reports true; the handler only derives the query from the message.
func (h *PreprocessHandler) RetrySafe() bool { return true }

func (h *PreprocessHandler) Run(_ context.Context, ec *pipeline.ExecutionContext) error {
	msg := ec.GetString(KeyMessage)
	query := strings.Join(strings.Fields(msg), " ")
	if query == "" {
		return ErrNoMessage
	}

	truncated := false
	if utf8.RuneCountInString(query) > h.MaxLength {
		query = string([]rune(query)[:h.MaxLength])
		truncated = true
	}

	ec.Set(KeyQuery, query)
	ec.SetOutput(map[string]any{"length": utf8.RuneCountInString(query), "truncated": truncated})
	return nil
}
