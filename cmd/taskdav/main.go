// Command taskdav runs the CalDAV server with its reminder scheduler.
// Accounts and collections are managed with the adduser and addcalendar
// subcommands; the server itself exposes no provisioning endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskdav/config"
	"taskdav/internal/caldav"
	"taskdav/internal/model"
	"taskdav/internal/notify"
	"taskdav/internal/scheduler"
	"taskdav/internal/storage/sqlite"
	"taskdav/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cmd := flag.Arg(0); cmd != "" {
		if err := runAdmin(store, cmd, flag.Args()[1:]); err != nil {
			logger.Error("admin command failed", "command", cmd, "error", err)
			os.Exit(1)
		}
		return
	}

	registry := notify.NewRegistry(logger)
	registry.Register(notify.NewLogNotifier(logger))
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, logger)
		if err != nil {
			logger.Error("failed to init telegram notifier", "error", err)
			os.Exit(1)
		}
		registry.Register(tg)
		if err := registry.SetDefault(tg.Name()); err != nil {
			logger.Error("failed to select default channel", "error", err)
			os.Exit(1)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}
	sched, err := scheduler.New(store, registry, logger, loc, cfg.MorningTime)
	if err != nil {
		logger.Error("failed to init scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()
	defer sched.Stop()

	handler := caldav.NewHandler(cfg.BaseURI, cfg.Realm, store, logger)
	mux := http.NewServeMux()
	mux.Handle(cfg.BaseURI, handler)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		logger.Info("server listening",
			"addr", cfg.Listen,
			"base_uri", cfg.BaseURI)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runAdmin handles the provisioning subcommands against the opened store.
func runAdmin(store *sqlite.Store, cmd string, args []string) error {
	ctx := context.Background()

	switch cmd {
	case "adduser":
		fs := flag.NewFlagSet("adduser", flag.ExitOnError)
		username := fs.String("username", "", "login name (lowercase letters, digits, hyphens)")
		secret := fs.String("secret", "", "HTTP Basic password")
		displayName := fs.String("name", "", "display name")
		timezone := fs.String("timezone", "UTC", "IANA timezone for reminders and digests")
		chatID := fs.Int64("telegram-chat-id", 0, "telegram chat for notifications")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := validate.Username(*username); err != nil {
			return fmt.Errorf("username: %w", err)
		}
		if *secret == "" {
			return fmt.Errorf("secret must not be empty")
		}
		if _, err := time.LoadLocation(*timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		user := &model.User{
			Username:       *username,
			DisplayName:    *displayName,
			Secret:         *secret,
			Timezone:       *timezone,
			TelegramChatID: *chatID,
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return err
		}
		fmt.Printf("created user %s (id %d)\n", user.Username, user.ID)
		return nil

	case "addcalendar":
		fs := flag.NewFlagSet("addcalendar", flag.ExitOnError)
		owner := fs.String("owner", "", "username owning the collection")
		slug := fs.String("slug", "", "collection path segment")
		displayName := fs.String("name", "", "display name")
		color := fs.String("color", "", "default item color")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if _, err := store.GetUser(ctx, *owner); err != nil {
			return fmt.Errorf("owner %q: %w", *owner, err)
		}
		if err := validate.Slug(*slug); err != nil {
			return fmt.Errorf("slug: %w", err)
		}
		cal := &model.Calendar{
			Owner:       *owner,
			Slug:        *slug,
			DisplayName: *displayName,
			Color:       *color,
		}
		if err := store.CreateCalendar(ctx, cal); err != nil {
			return err
		}
		fmt.Printf("created calendar %s/%s (id %d)\n", cal.Owner, cal.Slug, cal.ID)
		return nil

	default:
		return fmt.Errorf("unknown command %q (want adduser or addcalendar)", cmd)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
