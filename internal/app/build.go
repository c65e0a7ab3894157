package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/billing"
	"github.com/artwise/artwise/internal/config"
	"github.com/artwise/artwise/internal/credentials"
	"github.com/artwise/artwise/internal/httpapi"
	"github.com/artwise/artwise/internal/observability"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Ledger  *billing.Ledger
	Grants  *credentials.Registry
	Metrics *observability.Metrics
	Logger  zerolog.Logger

	// StoreMode is "postgres" or "in-memory".
	StoreMode string

	// Cleanup should be called on shutdown to release external resources (DB, janitor).
	Cleanup func() error
}

// Build wires the credential and billing backend.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := billing.NewStore(ctx, cfg.DatabaseURL, cfg.FreeIncludedCredits)
	if err != nil {
		return nil, fmt.Errorf("billing store init failed: %w", err)
	}
	storeMode := "in-memory"
	if _, ok := store.(*billing.PostgresStore); ok {
		storeMode = "postgres"
	}
	ledger := billing.NewLedger(store, observability.Component(logger, "billing"), metrics)

	var issuer httpapi.Issuer
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		logger.Warn().Msg("OPENAI_API_KEY is not set, credential issuance disabled")
	} else {
		iss, err := credentials.NewIssuer(credentials.IssuerConfig{
			APIKey:      cfg.OpenAIAPIKey,
			SessionsURL: cfg.OpenAIRealtimeSessionsURL,
			RealtimeURL: cfg.OpenAIRealtimeURL,
			Model:       cfg.RealtimeModel,
			Voice:       cfg.RealtimeVoice,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("credential issuer init failed: %w", err)
		}
		issuer = iss
	}

	grants := credentials.NewRegistry(cfg.CredentialTTL, metrics)
	grantLog := observability.Component(logger, "credentials")
	grants.SetExpireHook(func(g credentials.Grant) {
		metrics.ObserveSessionEvent("credential_expired")
		grantLog.Debug().Str("grant_id", g.ID).Str("user_id", g.UserID).Msg("credential expired")
	})
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	grants.StartJanitor(janitorCtx, 5*time.Second)

	api := httpapi.New(cfg, issuer, ledger, grants, metrics, observability.Component(logger, "httpapi"))

	cleanup := func() error {
		stopJanitor()
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Ledger:    ledger,
		Grants:    grants,
		Metrics:   metrics,
		Logger:    logger,
		StoreMode: storeMode,
		Cleanup:   cleanup,
	}, nil
}
