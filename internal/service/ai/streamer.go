package ai

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/config"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
)

// Streamer opens one response stream per user turn.
//
// Implementations keep a single conversation handle. The handle is reused
// while consecutive calls ask for the same tier, so remote context
// accumulates, and is discarded and recreated when the tier changes.
type Streamer interface {
	OpenStream(ctx context.Context, message string, t tier.Tier) (Stream, error)
}

// Stream is a lazy, finite and non-restartable sequence of text fragments.
// Recv returns io.EOF after the last fragment. Close releases the stream and
// must be called exactly once the caller is done, including after errors.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ConfigurationError reports a missing credential. It is raised when a
// stream is opened, never at startup.
type ConfigurationError struct {
	Provider string
	Keys     []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s credential not found: set %s", e.Provider, strings.Join(e.Keys, " or "))
}

// ServiceError reports a failure to open or read a stream.
type ServiceError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// New builds the streamer selected by cfg.Provider.
func New(cfg config.AIConfig, tiers tier.Store, logger *zap.Logger) (Streamer, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiStreamer(cfg, tiers, logger), nil
	case config.ProviderArk:
		return NewArkStreamer(cfg, tiers, logger), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
}

// acquire takes a handle slot, giving up when ctx is done.
func acquire(ctx context.Context, sem chan struct{}, provider string) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &ServiceError{Provider: provider, Op: "open", Err: ctx.Err()}
	}
}
