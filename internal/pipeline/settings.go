package pipeline

import (
	"fmt"

	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/prompts"
)

// Defaults for the numeric settings.
const (
	DefaultTextSplitMinLength       = 1500
	DefaultTextSplitMaxLength       = 2000
	DefaultQuestionGenerationLength = 240
	DefaultConcurrencyLimit         = 5
)

// Settings is passed with every pipeline call. Nothing about the model or the split is kept
// as process state.
type Settings struct {
	Model llm.Config `json:"model"`

	TextSplitMinLength       int `json:"textSplitMinLength"`
	TextSplitMaxLength       int `json:"textSplitMaxLength"`
	QuestionGenerationLength int `json:"questionGenerationLength"`
	ConcurrencyLimit         int `json:"concurrencyLimit"`
	// QuestionCount, when positive, overrides the per-chunk count derived from length.
	QuestionCount int `json:"questionCount,omitempty"`

	Language  string         `json:"language,omitempty"`
	RefineCot bool           `json:"refineCot"`
	Prompts   prompts.Custom `json:"prompts"`
}

// DefaultSettings returns settings with the default numbers and no model.
func DefaultSettings() Settings {
	return Settings{
		TextSplitMinLength:       DefaultTextSplitMinLength,
		TextSplitMaxLength:       DefaultTextSplitMaxLength,
		QuestionGenerationLength: DefaultQuestionGenerationLength,
		ConcurrencyLimit:         DefaultConcurrencyLimit,
		Language:                 prompts.LangEnglish,
		RefineCot:                true,
	}
}

// WithDefaults fills zero numeric fields and the language.
func (s Settings) WithDefaults() Settings {
	if s.TextSplitMinLength == 0 {
		s.TextSplitMinLength = DefaultTextSplitMinLength
	}
	if s.TextSplitMaxLength == 0 {
		s.TextSplitMaxLength = DefaultTextSplitMaxLength
	}
	if s.QuestionGenerationLength <= 0 {
		s.QuestionGenerationLength = DefaultQuestionGenerationLength
	}
	if s.ConcurrencyLimit <= 0 {
		s.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if s.Language == "" {
		s.Language = prompts.LangEnglish
	}
	return s
}

// ValidateSplit checks the chunk bounds.
func (s Settings) ValidateSplit() error {
	if s.TextSplitMinLength < 0 || s.TextSplitMaxLength < 1 || s.TextSplitMinLength > s.TextSplitMaxLength {
		return fmt.Errorf("%w: split bounds min=%d max=%d", ErrInvalidInput, s.TextSplitMinLength, s.TextSplitMaxLength)
	}
	return nil
}

// QuestionCount returns how many questions to request for a chunk of length code points:
// the override when set, else one per QuestionGenerationLength characters and at least one.
func QuestionCount(s Settings, length int) int {
	if s.QuestionCount > 0 {
		return s.QuestionCount
	}
	per := s.QuestionGenerationLength
	if per <= 0 {
		per = DefaultQuestionGenerationLength
	}
	n := length / per
	if n < 1 {
		n = 1
	}
	return n
}
