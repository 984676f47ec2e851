package ai

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/zhouzirui/novachat/backend/internal/config"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
)

const providerGemini = "gemini"

// geminiChat is the part of *genai.Chat the streamer relies on.
type geminiChat interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

type geminiChatFactory func(ctx context.Context, apiKey string, spec tier.Spec, system string) (geminiChat, error)

type geminiHandle struct {
	tier tier.Tier
	chat geminiChat
	sem  chan struct{}
}

// GeminiStreamer streams responses from the Gemini API through a genai chat.
type GeminiStreamer struct {
	cfg     config.AIConfig
	tiers   tier.Store
	system  string
	logger  *zap.Logger
	newChat geminiChatFactory

	mu     sync.Mutex
	handle *geminiHandle
}

// NewGeminiStreamer creates a streamer; no client is created until the first
// stream is opened.
func NewGeminiStreamer(cfg config.AIConfig, tiers tier.Store, logger *zap.Logger) *GeminiStreamer {
	return &GeminiStreamer{
		cfg:     cfg,
		tiers:   tiers,
		system:  SystemPrompt(cfg.SystemPrompt),
		logger:  logger.Named("gemini"),
		newChat: newGenAIChat,
	}
}

func newGenAIChat(ctx context.Context, apiKey string, spec tier.Spec, system string) (geminiChat, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	chat, err := client.Chats.Create(ctx, spec.GeminiModel, generateConfig(spec, system), nil)
	if err != nil {
		return nil, fmt.Errorf("create chat for %s: %w", spec.GeminiModel, err)
	}
	return chat, nil
}

// generateConfig maps a tier onto request options. The reasoning tier asks
// for an internal thinking allowance.
func generateConfig(spec tier.Spec, system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if spec.UsesThinking() {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(spec.ThinkingBudget),
		}
	}
	return cfg
}

// OpenStream sends message on the current handle, recreating it when t
// differs from the tier of the previous call.
func (g *GeminiStreamer) OpenStream(ctx context.Context, message string, t tier.Tier) (Stream, error) {
	spec, ok := g.tiers.FindByID(t)
	if !ok {
		return nil, &ServiceError{Provider: providerGemini, Op: "open", Err: fmt.Errorf("%w: %s", tier.ErrUnknownTier, t)}
	}

	handle, err := g.handleFor(ctx, spec)
	if err != nil {
		return nil, err
	}

	if err := acquire(ctx, handle.sem, providerGemini); err != nil {
		return nil, err
	}

	next, stop := iter.Pull2(handle.chat.SendMessageStream(ctx, genai.Part{Text: message}))
	return &geminiStream{next: next, stop: stop, sem: handle.sem}, nil
}

func (g *GeminiStreamer) handleFor(ctx context.Context, spec tier.Spec) (*geminiHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.handle != nil && g.handle.tier == spec.ID {
		return g.handle, nil
	}

	apiKey, ok := g.cfg.GeminiCredential()
	if !ok {
		return nil, &ConfigurationError{Provider: providerGemini, Keys: []string{"GEMINI_API_KEY", "API_KEY"}}
	}

	chat, err := g.newChat(ctx, apiKey, spec, g.system)
	if err != nil {
		return nil, &ServiceError{Provider: providerGemini, Op: "open", Err: err}
	}

	g.logger.Info("created chat handle", zap.String("tier", string(spec.ID)), zap.String("model", spec.GeminiModel))
	g.handle = &geminiHandle{tier: spec.ID, chat: chat, sem: make(chan struct{}, 1)}
	return g.handle, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	sem  chan struct{}
	once sync.Once
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", &ServiceError{Provider: providerGemini, Op: "recv", Err: err}
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.once.Do(func() {
		s.stop()
		<-s.sem
	})
	return nil
}
