package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kcartlabs/kcartbot/internal/api"
	"github.com/kcartlabs/kcartbot/internal/config"
	"github.com/kcartlabs/kcartbot/internal/push"
	"github.com/kcartlabs/kcartbot/internal/session"
	"github.com/kcartlabs/kcartbot/internal/timeline"
	"github.com/kcartlabs/kcartbot/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive terminal chat with the ChipChip assistant.

Signed-in sessions sync with the server conversation and receive live
order notifications. Anonymous sessions keep a local transcript of the
last messages.

Examples:
  kcartbot chat
  kcartbot login && kcartbot chat`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	logger := newLogger(cfg)

	client := api.NewClient(cfg.Server.BaseURL)

	registry := push.NewRegistry(logger)
	channel := push.NewChannel(cfg.Server.WSURL, registry, push.Options{Logger: logger})

	tl := timeline.New(0)
	merger := timeline.NewMerger(tl, client, client, client, timeline.MergerOptions{Logger: logger})
	store := timeline.NewStore(config.HistoryPath(), cfg.Chat.AnonymousHistoryLimit, logger)

	controller := session.NewController(client, channel, merger, store, config.CredentialsPath(), logger)

	sub := registry.Subscribe(merger.HandleEvent)
	defer sub.Cancel()

	if err := controller.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer controller.Stop()

	return tui.RunChat(merger, controller)
}
