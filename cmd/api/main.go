package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/config"
	"github.com/zhouzirui/novachat/backend/internal/logging"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	"github.com/zhouzirui/novachat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "NovaChat backend",
	Long:  "NovaChat serves multi-session chat with streamed model replies over HTTP, or as a terminal client.",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the wired services shared by both subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	tiers  tier.Store
	store  *chatService.Store
	ctrl   *conversation.Controller
}

func bootstrap(logOutput io.Writer) (*app, error) {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log, logOutput)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}

	var tiers tier.Store = tier.NewMemoryStore(tier.Seed())
	if cfg.AI.TiersFile != "" {
		loaded, err := tier.LoadFile(cfg.AI.TiersFile)
		if err != nil {
			return nil, err
		}
		tiers = loaded
	}

	initial, err := tier.Parse(cfg.AI.DefaultTier)
	if err != nil {
		return nil, fmt.Errorf("AI_DEFAULT_TIER: %w", err)
	}

	streamer, err := ai.New(cfg.AI, tiers, logger)
	if err != nil {
		return nil, err
	}

	store := chatService.NewStore()
	ctrl, err := conversation.New(store, streamer, tiers, initial, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("novachat initialized",
		zap.String("provider", cfg.AI.Provider),
		zap.String("tier", string(initial)),
	)
	return &app{cfg: cfg, logger: logger, tiers: tiers, store: store, ctrl: ctrl}, nil
}
