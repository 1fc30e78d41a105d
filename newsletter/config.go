package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/droidhub-labs/droidhub-go/internal/platform/env"
)

// ProductConfig describes one product's weekly report: who receives it and
// which template renders it. An empty Template falls back to the built-in one.
type ProductConfig struct {
	Name      string   `yaml:"name"`
	Owner     string   `yaml:"owner"`
	Receivers []string `yaml:"receivers"`
	Template  string   `yaml:"template"`
}

type productsFile struct {
	Products []ProductConfig `yaml:"products"`
}

// LoadProducts reads the products file and keeps only the products named in
// the PRODUCTS env var; an empty PRODUCTS keeps everything.
func LoadProducts(path string) ([]ProductConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products file: %w", err)
	}
	var file productsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse products file: %w", err)
	}

	selected := env.Strings("PRODUCTS")
	if len(selected) == 0 {
		return file.Products, nil
	}

	wanted := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		wanted[strings.TrimSpace(name)] = struct{}{}
	}
	var products []ProductConfig
	for _, product := range file.Products {
		if _, ok := wanted[product.Name]; ok {
			products = append(products, product)
		}
	}
	return products, nil
}

type smtpConfig struct {
	Server   string
	Sender   string
	Password string
}

func smtpConfigFromEnv() (smtpConfig, error) {
	cfg := smtpConfig{
		Server:   env.String("NEWSLETTER_SMTP_SERVER", ""),
		Sender:   env.String("NEWSLETTER_SENDER_ADDRESS", ""),
		Password: env.String("NEWSLETTER_SENDER_PASSWORD", ""),
	}
	if cfg.Server == "" {
		return cfg, fmt.Errorf("NEWSLETTER_SMTP_SERVER is required")
	}
	if cfg.Sender == "" {
		return cfg, fmt.Errorf("NEWSLETTER_SENDER_ADDRESS is required")
	}
	return cfg, nil
}
