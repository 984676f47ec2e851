package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/config"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
)

const (
	providerArk = "ark"

	// historyLimit bounds how many prior messages are replayed to the model.
	historyLimit = 20
)

// chainStreamer is the streaming half of compose.Runnable.
type chainStreamer interface {
	Stream(ctx context.Context, input map[string]any, opts ...compose.Option) (*schema.StreamReader[*schema.Message], error)
}

type arkChainFactory func(ctx context.Context, cred config.ArkCredential, spec tier.Spec) (chainStreamer, error)

// arkConversation is the reusable handle. Ark models are stateless, so the
// handle carries the history itself.
type arkConversation struct {
	tier    tier.Tier
	chain   chainStreamer
	sem     chan struct{}
	history []*schema.Message // guarded by sem
}

// ArkStreamer streams responses from a Volcengine Ark endpoint through an
// eino chain: system prompt, history placeholder and query feeding the model.
type ArkStreamer struct {
	cfg      config.AIConfig
	tiers    tier.Store
	system   string
	logger   *zap.Logger
	newChain arkChainFactory

	mu     sync.Mutex
	handle *arkConversation
}

// NewArkStreamer creates a streamer; the chain is compiled on first use.
func NewArkStreamer(cfg config.AIConfig, tiers tier.Store, logger *zap.Logger) *ArkStreamer {
	s := &ArkStreamer{
		cfg:    cfg,
		tiers:  tiers,
		system: SystemPrompt(cfg.SystemPrompt),
		logger: logger.Named("ark"),
	}
	s.newChain = s.compileChain
	return s
}

func (s *ArkStreamer) compileChain(ctx context.Context, cred config.ArkCredential, spec tier.Spec) (chainStreamer, error) {
	chatModel, err := s.cfg.NewArkChatModel(ctx, cred, s.modelFor(spec))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return runnable, nil
}

// OpenStream sends message on the current conversation, starting a new one
// when t differs from the tier of the previous call.
func (s *ArkStreamer) OpenStream(ctx context.Context, message string, t tier.Tier) (Stream, error) {
	spec, ok := s.tiers.FindByID(t)
	if !ok {
		return nil, &ServiceError{Provider: providerArk, Op: "open", Err: fmt.Errorf("%w: %s", tier.ErrUnknownTier, t)}
	}

	conv, err := s.conversationFor(ctx, spec)
	if err != nil {
		return nil, err
	}

	if err := acquire(ctx, conv.sem, providerArk); err != nil {
		return nil, err
	}

	reader, err := conv.chain.Stream(ctx, map[string]any{
		"system":  s.system,
		"history": recentHistory(conv.history),
		"query":   message,
	})
	if err != nil {
		<-conv.sem
		return nil, &ServiceError{Provider: providerArk, Op: "open", Err: fmt.Errorf("failed to stream AI chain output: %w", err)}
	}

	return &arkStream{conv: conv, reader: reader, query: message}, nil
}

func (s *ArkStreamer) conversationFor(ctx context.Context, spec tier.Spec) (*arkConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil && s.handle.tier == spec.ID {
		return s.handle, nil
	}

	cred, ok := s.cfg.ArkCredentials()
	if !ok {
		return nil, &ConfigurationError{Provider: providerArk, Keys: []string{"ARK_API_KEY", "ARK_ACCESS_KEY+ARK_SECRET_KEY"}}
	}

	chain, err := s.newChain(ctx, cred, spec)
	if err != nil {
		return nil, &ServiceError{Provider: providerArk, Op: "open", Err: err}
	}

	s.logger.Info("created conversation handle", zap.String("tier", string(spec.ID)), zap.String("model", s.modelFor(spec)))
	s.handle = &arkConversation{tier: spec.ID, chain: chain, sem: make(chan struct{}, 1)}
	return s.handle, nil
}

// modelFor picks the Ark endpoint of a tier: the catalog entry when set,
// otherwise ARK_MODEL (or ARK_REASONING_MODEL for the reasoning tier).
func (s *ArkStreamer) modelFor(spec tier.Spec) string {
	return s.cfg.ResolveArkModel(spec.ArkModel, spec.UsesThinking())
}

func recentHistory(history []*schema.Message) []*schema.Message {
	if len(history) <= historyLimit {
		return append([]*schema.Message(nil), history...)
	}
	return append([]*schema.Message(nil), history[len(history)-historyLimit:]...)
}

type arkStream struct {
	conv   *arkConversation
	reader *schema.StreamReader[*schema.Message]
	query  string
	reply  strings.Builder
	done   bool
	once   sync.Once
}

func (s *arkStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		chunk, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.conv.history = append(s.conv.history,
				schema.UserMessage(s.query),
				schema.AssistantMessage(s.reply.String(), nil),
			)
			return "", io.EOF
		}
		if err != nil {
			return "", &ServiceError{Provider: providerArk, Op: "recv", Err: err}
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		s.reply.WriteString(chunk.Content)
		return chunk.Content, nil
	}
}

func (s *arkStream) Close() error {
	s.once.Do(func() {
		s.reader.Close()
		<-s.conv.sem
	})
	return nil
}
