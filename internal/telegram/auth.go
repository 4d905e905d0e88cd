package telegram

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// QRLogin runs the QR authentication flow with a throwaway in-memory client
// and persists the resulting session at sessionDB, where NewClient picks it
// up. onToken is called with a fresh login URL each time the server rotates
// the token; the flow completes when the account confirms the scan.
func QRLogin(ctx context.Context, appID int, appHash, sessionDB string, onToken func(url string)) error {
	memStorage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
	})

	var data *session.Data
	err := client.Run(ctx, func(ctx context.Context) error {
		qr := client.QR()
		loggedIn := qrlogin.OnLoginToken(&dispatcher)

		_, err := qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			onToken(token.URL())
			return nil
		})
		if err != nil {
			return err
		}

		loader := session.Loader{Storage: memStorage}
		data, err = loader.Load(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("qr auth: %w", err)
	}
	if data == nil {
		return fmt.Errorf("qr auth: no session captured")
	}

	return saveSession(sessionDB, data)
}

// saveSession writes a captured session into the sqlite file in the layout
// the persistent client's session loader expects.
func saveSession(path string, data *session.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open session db: %w", err)
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate session db: %w", err)
	}

	sess := &storage.Session{Version: storage.LatestVersion, Data: raw}
	if err := db.Save(sess).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// HasSession reports whether a persisted session exists at path.
func HasSession(path string) (bool, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return false, fmt.Errorf("open session db: %w", err)
	}
	if !db.Migrator().HasTable(&storage.Session{}) {
		return false, nil
	}
	var count int64
	if err := db.Model(&storage.Session{}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count sessions: %w", err)
	}
	return count > 0, nil
}
