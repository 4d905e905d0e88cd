package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/lock"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/telegram"
)

var authFlags struct {
	appID   int
	appHash string
	force   bool
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in to Telegram by scanning a QR code",
	Long: `Runs the QR login flow and stores the session for this session name.
Scan the code with a logged-in Telegram app under
Settings > Devices > Link Desktop Device.

API credentials (app_id/app_hash from my.telegram.org) are read from
~/.tgvault/config.toml; pass --app-id/--app-hash once to save them there.`,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().IntVar(&authFlags.appID, "app-id", 0, "telegram api id (saved to config)")
	authCmd.Flags().StringVar(&authFlags.appHash, "app-hash", "", "telegram api hash (saved to config)")
	authCmd.Flags().BoolVar(&authFlags.force, "force", false, "re-authenticate even if a session exists")
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := authConfig()
	if err != nil {
		return err
	}

	name, err := resolveSession()
	if err != nil {
		return err
	}
	if err := session.EnsureDir(name); err != nil {
		return err
	}

	lk, err := lock.Acquire(session.Dir(name))
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			return fmt.Errorf("session %q is in use by pid %d; stop the daemon before re-authenticating", name, held.PID)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	sessionDB := session.TelegramDBPath(name)
	if !authFlags.force {
		ok, err := telegram.HasSession(sessionDB)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("session %q is already authenticated; use --force to re-login\n", name)
			return nil
		}
	}

	fmt.Println("scan this QR code with your Telegram app:")
	err = telegram.QRLogin(cmd.Context(), cfg.Telegram.AppID, cfg.Telegram.AppHash, sessionDB, func(url string) {
		fmt.Println()
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println()
	})
	if err != nil {
		return err
	}

	fmt.Printf("session %q authenticated; start the daemon with: tgvd --session %s\n", name, name)
	return nil
}

// authConfig loads the config, folding in credentials passed as flags and
// persisting them for later runs.
func authConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()

	changed := false
	if authFlags.appID != 0 {
		cfg.Telegram.AppID = authFlags.appID
		changed = true
	}
	if authFlags.appHash != "" {
		cfg.Telegram.AppHash = authFlags.appHash
		changed = true
	}
	if cfg.Telegram.AppID == 0 || cfg.Telegram.AppHash == "" {
		return nil, fmt.Errorf("telegram credentials missing; pass --app-id and --app-hash (from my.telegram.org)")
	}
	if changed {
		if err := config.Save(session.ConfigPath(), cfg); err != nil {
			return nil, fmt.Errorf("save config: %w", err)
		}
	}
	return cfg, nil
}
