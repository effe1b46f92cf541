package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshwatch/meshwatch/pkg/config"
	"github.com/meshwatch/meshwatch/pkg/groupbuf"
	"github.com/meshwatch/meshwatch/pkg/ingest"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/notify"
	"github.com/meshwatch/meshwatch/pkg/pipeline"
	"github.com/meshwatch/meshwatch/pkg/query"
	"github.com/meshwatch/meshwatch/pkg/store"
)

const httpShutdownWait = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mesh ingest daemon and HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backing, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	st := store.NewCached(backing, 0, 0)
	defer st.Close()

	keys, err := meshproto.NewKeyRing(cfg.Keys...)
	if err != nil {
		return err
	}

	// Chat forwarding is optional; without a bot token the daemon only
	// ingests and serves queries.
	var (
		tg      *notify.Telegram
		buffer  *groupbuf.Buffer
		forward pipeline.ForwardFunc
	)
	if cfg.Telegram.Token != "" {
		tg, err = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.Chats, logger)
		if err != nil {
			return err
		}
		notifier := notify.New(notify.Config{
			Sender: tg,
			Dots:   st,
			Channels: notify.ChannelMap{
				ByPrefix: cfg.ChannelByPrefix,
				Default:  cfg.DefaultChannel,
			},
			ClearInterval: time.Duration(cfg.ProcessedClear),
			Logger:        logger,
		})
		buffer = groupbuf.New(time.Duration(cfg.GroupWindow), notifier.Flush)
		forward = func(ev groupbuf.Event, gatewayID string, rx groupbuf.Reception) {
			if notifier.Observe(ev.ID, gatewayID, rx.Broker) {
				buffer.Observe(ev, gatewayID, rx)
			}
		}
	}

	forwardBrokers := make(map[string]bool)
	for _, b := range cfg.Brokers {
		if b.ForwardToChat {
			forwardBrokers[b.Name] = true
		}
	}

	router := pipeline.NewRouter(pipeline.RouterConfig{
		Store:           st,
		Keys:            keys,
		DedupWindow:     time.Duration(cfg.DedupWindow),
		AllowedPrefixes: cfg.AllowedPrefixes,
		Forward:         forward,
		ForwardBrokers:  forwardBrokers,
		Logger:          logger,
	})

	api := query.New(query.Config{
		Store:       st,
		AdminSecret: cfg.AdminSecret,
		Logger:      logger,
	})
	router.Dots().OnUpdate = api.Hub().PublishDot

	brokers := make([]ingest.SessionConfig, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		brokers = append(brokers, ingest.SessionConfig{
			Name:     b.Name,
			URL:      b.Address,
			Username: b.Username,
			Password: b.Password,
		})
	}
	sup := ingest.NewSupervisor(ingest.SupervisorConfig{
		Brokers: brokers,
		Workers: cfg.Workers,
	}, router, logger)

	httpSrv := &http.Server{Addr: cfg.HTTPListen, Handler: api.Handler()}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPListen)
		httpErr <- httpSrv.ListenAndServe()
	}()

	if tg != nil {
		go func() {
			if err := tg.RunCommands(ctx, st); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("bot command loop failed", "error", err)
			}
		}()
	}

	sup.Start()
	logger.Info("meshwatch running", "brokers", len(brokers), "workers", cfg.Workers)

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	// Intake off first, then the pending groups, then the API.
	sup.Close()
	if buffer != nil {
		buffer.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownWait)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}
