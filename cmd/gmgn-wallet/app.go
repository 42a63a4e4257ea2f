package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/quantumauth-io/gmgn-wallet/cmd/gmgn-wallet/config"
	"github.com/quantumauth-io/gmgn-wallet/internal/authenticator"
	"github.com/quantumauth-io/gmgn-wallet/internal/chains"
	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
	"github.com/quantumauth-io/gmgn-wallet/internal/vault"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// app is the wired wallet stack shared by every command.
type app struct {
	cfg      *config.Config
	registry *networks.Registry
	db       *storage.DB
	prefs    *storage.Preferences
	chains   *chains.Service
	sess     *session.Session
}

func newApp(ctx context.Context, configPath, network string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	registry := networks.NewRegistry(cfg.RegistryOptions())

	db, err := storage.Open(filepath.Join(cfg.Wallet.DataDir, constants.StoreDirName))
	if err != nil {
		return nil, err
	}

	sealer, err := newSealer(cfg.Wallet.Authenticator)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	platform, err := authenticator.NewPlatform(
		filepath.Join(cfg.Wallet.DataDir, constants.CredentialsDir),
		sealer,
		authenticator.NewTerminalPresence(),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		registry: registry,
		db:       db,
		prefs:    storage.NewPreferences(db, registry),
		chains:   chains.NewService(registry, chains.DialEth),
	}
	a.sess = session.New(session.Deps{
		Registry: registry,
		Vault:    vault.New(platform),
		Handles:  vault.NewHandleCache(db),
		Records:  storage.NewRecords(db),
		Prefs:    a.prefs,
		Chains:   a.chains,
	})

	snap, err := a.sess.Start(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if network != "" && network != snap.Network.ID {
		if _, err := a.sess.SwitchNetwork(ctx, network); err != nil {
			a.Close()
			return nil, err
		}
	}

	log.Info("wallet ready",
		"state", snap.State.String(),
		"network", a.sess.Network().ID,
		"authenticator", cfg.Wallet.Authenticator,
		"data_dir", cfg.Wallet.DataDir,
	)
	return a, nil
}

func newSealer(kind string) (authenticator.Sealer, error) {
	switch kind {
	case config.AuthenticatorPIN:
		return authenticator.NewPINSealer(authenticator.NewTerminalPIN()), nil
	default:
		// owner auth usually ""
		return authenticator.NewTPMSealer("")
	}
}

func (a *app) Close() {
	a.chains.Close()
	if err := a.db.Close(); err != nil {
		log.Error("store close failed", "error", err)
	}
}
