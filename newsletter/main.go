package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/droidhub-labs/droidhub-go/internal/platform/env"
	"github.com/droidhub-labs/droidhub-go/internal/platform/objectstore"
)

// The newsletter is a one-shot job: a weekly schedule runs the binary, it
// sends each product's report and exits.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeURL := env.String("NEWSLETTER_STORE_URL", "http://store:8080")
	internalKey := env.String("DROIDHUB_INTERNAL_KEY", "")
	if internalKey == "" {
		logger.Error("DROIDHUB_INTERNAL_KEY is required")
		os.Exit(2)
	}
	productsPath := env.String("NEWSLETTER_PRODUCTS_FILE", "products.yaml")

	smtpCfg, err := smtpConfigFromEnv()
	if err != nil {
		logger.Error("invalid smtp config", "error", err)
		os.Exit(2)
	}

	products, err := LoadProducts(productsPath)
	if err != nil {
		logger.Error("products config unavailable", "error", err)
		os.Exit(2)
	}
	if len(products) == 0 {
		logger.Info("no products selected, nothing to do")
		return
	}

	store, err := newStoreClient(storeURL, internalKey)
	if err != nil {
		logger.Error("invalid store url", "error", err)
		os.Exit(2)
	}

	rp := &reporter{
		logger: logger,
		store:  store,
		smtp:   smtpCfg,
	}

	if err := configureArchive(ctx, logger, rp); err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}

	if err := rp.run(ctx, products, time.Now()); err != nil {
		logger.Error("newsletter failed", "error", err)
		os.Exit(1)
	}
}

// configureArchive wires the optional report archive. An unset endpoint means
// archiving is off; an endpoint with an otherwise broken config is logged so a
// misconfigured deployment does not lose its archive silently.
func configureArchive(ctx context.Context, logger *slog.Logger, rp *reporter) error {
	if env.String("OBJECTSTORE_ENDPOINT", "") == "" {
		return nil
	}
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Warn("invalid object store config, reports will not be archived", "error", err.Error())
		return nil
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return err
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg); err != nil {
		return err
	}
	rp.archive = client
	rp.bucket = cfg.BucketReports
	return nil
}
