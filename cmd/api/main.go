package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"visionlake/config"
	"visionlake/db"
	"visionlake/ledger"
	"visionlake/pandadoc"
	"visionlake/pipeline"
	"visionlake/stripe"
	"visionlake/xero"
)

func main() {
	logger := config.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("bootstrap config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	repo := ledger.NewRepository(pool)

	stripeClient := stripe.NewClient(cfg.StripeBaseURL, cfg.StripeAPIKey)
	xeroClient := xero.NewClient(xero.Options{
		BaseURL:            cfg.XeroBaseURL,
		IdentityURL:        cfg.XeroIdentityURL,
		TenantID:           cfg.XeroTenantID,
		ClientID:           cfg.XeroClientID,
		ClientSecret:       cfg.XeroClientSecret,
		InvoiceDescription: cfg.InvoiceDescription,
	})
	pandaClient := pandadoc.NewClient(cfg.PandaDocBaseURL, cfg.PandaDocAPIKey, pandadoc.Templates{
		Basic:      cfg.TemplateBasic,
		Premium:    cfg.TemplatePremium,
		Enterprise: cfg.TemplateEnterprise,
	})

	service := pipeline.NewService(stripeClient, xeroClient, xeroClient, pandaClient, repo, logger)
	handler := pipeline.NewHandler(service, cfg.StripeWebhookSecret, logger)

	router := chi.NewRouter()
	handler.Routes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	relay := ledger.NewRelay(pool, logger, 5*time.Second)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("port", cfg.Port).Info("payment pipeline listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		if err := relay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Fatalf("payment pipeline exited: %v", err)
	}
	logger.Info("payment pipeline stopped")
}
