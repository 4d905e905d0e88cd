// Package cmd implements the tgv command line front end. Read-only commands
// take a shared session lock so they can run side by side; anything that
// mutates the archive takes the exclusive lock the daemon also uses.
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/archive"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/lock"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

var sessionFlag string

var rootCmd = &cobra.Command{
	Use:           "tgv",
	Short:         "Query and manage the local Telegram archive",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(dialogsCmd)
	rootCmd.AddCommand(authCmd)
}

func resolveSession() (string, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// withService opens the session store under the requested lock mode and
// runs fn against an offline facade. Remote-dependent operations need
// withConnectedService instead.
func withService(shared bool, fn func(name string, svc *archive.Service) error) error {
	return withClientService(shared, nil, fn)
}

func withClientService(shared bool, client archive.RemoteClient, fn func(name string, svc *archive.Service) error) error {
	name, err := resolveSession()
	if err != nil {
		return err
	}
	if err := session.EnsureDir(name); err != nil {
		return err
	}

	var lk *lock.Lock
	if shared {
		lk, err = lock.AcquireShared(session.Dir(name))
	} else {
		lk, err = lock.Acquire(session.Dir(name))
	}
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			return fmt.Errorf("session %q is busy (held by pid %d); stop the daemon or wait for it to finish", name, held.PID)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(session.ArchiveDBPath(name))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Init(); err != nil {
		return err
	}

	svc := archive.NewService(db, client, nil, nil, zap.NewNop())
	return fn(name, svc)
}

// withConnectedService builds a live remote client before opening the
// store. Used by sync-style commands that must talk to the network.
func withConnectedService(fn func(name string, svc *archive.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name, err := resolveSession()
	if err != nil {
		return err
	}
	sessionDB := session.TelegramDBPath(name)
	ok, err := telegram.HasSession(sessionDB)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no telegram session for %q; run: tgv auth", name)
	}

	client, err := telegram.NewClient(cfg.Telegram.AppID, cfg.Telegram.AppHash, sessionDB, zap.NewNop())
	if err != nil {
		return err
	}
	defer client.Stop()

	return withClientService(false, client, fn)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.Telegram.AppID == 0 || cfg.Telegram.AppHash == "" {
		return nil, fmt.Errorf("telegram app_id/app_hash not configured in %s", session.ConfigPath())
	}
	return cfg, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and returns unix seconds.
func parseDate(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("unparseable date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return t.Unix(), nil
}

func formatDate(unixSec int64) string {
	if unixSec == 0 {
		return "-"
	}
	return time.Unix(unixSec, 0).Format("2006-01-02 15:04")
}
