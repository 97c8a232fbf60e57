// Package llm invokes chat models through an OpenAI-compatible API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Errors returned by model calls.
var (
	ErrNoModel       = errors.New("model base URL and name are required")
	ErrEmptyResponse = errors.New("model returned an empty response")
	ErrProvider      = errors.New("model provider error")
)

// Roles of chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Options tune a single call. Zero values leave the provider defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Model generates text from chat messages.
type Model interface {
	// Generate returns the whole completion.
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
	// Stream returns the completion incrementally. The caller must Close the stream.
	Stream(ctx context.Context, messages []Message, opts Options) (*Stream, error)
}

// Config selects and configures a model. It is passed explicitly with every pipeline call.
type Config struct {
	Provider          string        `json:"provider,omitempty" yaml:"provider" toml:"provider"`
	BaseURL           string        `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey            string        `json:"api_key,omitempty" yaml:"api_key" toml:"api_key"`
	Name              string        `json:"name" yaml:"name" toml:"name"`
	Temperature       *float64      `json:"temperature,omitempty" yaml:"temperature" toml:"temperature"`
	MaxTokens         int           `json:"max_tokens,omitempty" yaml:"max_tokens" toml:"max_tokens"`
	Timeout           time.Duration `json:"timeout,omitempty" yaml:"timeout" toml:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second,omitempty" yaml:"requests_per_second" toml:"requests_per_second"`
}

// Validate checks that the config names an endpoint and a model.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" || strings.TrimSpace(c.Name) == "" {
		return ErrNoModel
	}
	switch c.Provider {
	case "", ProviderOpenAI, ProviderOllama:
		return nil
	default:
		return fmt.Errorf("unknown model provider %q", c.Provider)
	}
}

// DefaultOptions returns call options from the config's temperature and token limit.
func (c Config) DefaultOptions() Options {
	return Options{Temperature: c.Temperature, MaxTokens: c.MaxTokens}
}

// key identifies the client a config needs. Sampling options are per call and not part of it.
func (c Config) key() string {
	return strings.Join([]string{
		c.Provider, c.BaseURL, c.Name, c.APIKey,
		c.Timeout.String(),
		strconv.FormatFloat(c.RequestsPerSecond, 'g', -1, 64),
	}, "\x00")
}

// Providers understood by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// New creates a model client for cfg.
func New(cfg Config) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewClient(cfg), nil
}

// Factory builds a model for a config.
type Factory func(cfg Config) (Model, error)

// CachedFactory returns a factory that reuses one client per endpoint, model, key, timeout and
// rate, so concurrent calls with the same config share a rate limiter.
func CachedFactory(build Factory) Factory {
	if build == nil {
		build = New
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]Model)
	)
	return func(cfg Config) (Model, error) {
		mu.Lock()
		defer mu.Unlock()
		if m, ok := clients[cfg.key()]; ok {
			return m, nil
		}
		m, err := build(cfg)
		if err != nil {
			return nil, err
		}
		clients[cfg.key()] = m
		return m, nil
	}
}
