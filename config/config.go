package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config holds the full runtime configuration surface: credentials for the
// three external systems, the contract template set, and the listen port.
type Config struct {
	Port string

	DatabaseURL string

	StripeAPIKey        string
	StripeWebhookSecret string
	StripeBaseURL       string

	XeroClientID     string
	XeroClientSecret string
	XeroTenantID     string
	XeroBaseURL      string
	XeroIdentityURL  string

	PandaDocAPIKey  string
	PandaDocBaseURL string

	TemplateBasic      string
	TemplatePremium    string
	TemplateEnterprise string

	InvoiceDescription string
}

const defaultPort = "8080"

// Load reads configuration from the environment and fails fast on missing
// required values so a misconfigured deployment never reaches traffic.
func Load() (Config, error) {
	cfg := Config{
		Port:                getenvDefault("PORT", defaultPort),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeAPIKey:        os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:       getenvDefault("STRIPE_API_BASE", "https://api.stripe.com"),
		XeroClientID:        os.Getenv("XERO_CLIENT_ID"),
		XeroClientSecret:    os.Getenv("XERO_CLIENT_SECRET"),
		XeroTenantID:        os.Getenv("XERO_TENANT_ID"),
		XeroBaseURL:         getenvDefault("XERO_API_BASE", "https://api.xero.com/api.xro/2.0"),
		XeroIdentityURL:     getenvDefault("XERO_IDENTITY_BASE", "https://identity.xero.com"),
		PandaDocAPIKey:      os.Getenv("PANDADOC_API_KEY"),
		PandaDocBaseURL:     getenvDefault("PANDADOC_API_BASE", "https://api.pandadoc.com"),
		TemplateBasic:       os.Getenv("PANDADOC_TEMPLATE_BASIC"),
		TemplatePremium:     os.Getenv("PANDADOC_TEMPLATE_PREMIUM"),
		TemplateEnterprise:  os.Getenv("PANDADOC_TEMPLATE_ENTERPRISE"),
		InvoiceDescription:  getenvDefault("INVOICE_DESCRIPTION", "Vision Lake Subscription"),
	}

	required := map[string]string{
		"DATABASE_URL":                 cfg.DatabaseURL,
		"STRIPE_SECRET_KEY":            cfg.StripeAPIKey,
		"STRIPE_WEBHOOK_SECRET":        cfg.StripeWebhookSecret,
		"XERO_CLIENT_ID":               cfg.XeroClientID,
		"XERO_CLIENT_SECRET":           cfg.XeroClientSecret,
		"XERO_TENANT_ID":               cfg.XeroTenantID,
		"PANDADOC_API_KEY":             cfg.PandaDocAPIKey,
		"PANDADOC_TEMPLATE_BASIC":      cfg.TemplateBasic,
		"PANDADOC_TEMPLATE_PREMIUM":    cfg.TemplatePremium,
		"PANDADOC_TEMPLATE_ENTERPRISE": cfg.TemplateEnterprise,
	}

	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getenvDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
