// Package objectstore holds the S3 client used to archive generated
// newsletter reports.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/droidhub-labs/droidhub-go/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Region        string
	BucketReports string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("OBJECTSTORE_ENDPOINT", ""),
		AccessKey:     env.String("OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey:     env.String("OBJECTSTORE_SECRET_KEY", ""),
		UseSSL:        useSSL,
		Region:        env.String("OBJECTSTORE_REGION", ""),
		BucketReports: env.String("OBJECTSTORE_BUCKET_REPORTS", "droidhub-reports"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("OBJECTSTORE_ENDPOINT is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("OBJECTSTORE_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("OBJECTSTORE_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.BucketReports) == "" {
		return errors.New("OBJECTSTORE_BUCKET_REPORTS is required")
	}
	return nil
}

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketReports)
	if err != nil {
		return fmt.Errorf("reports bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketReports, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make reports bucket: %w", err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
