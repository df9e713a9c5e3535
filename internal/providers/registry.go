// Package providers assembles the backend registry from configuration.
// Each ESP adapter lives in its own subpackage; a provider is
// registered only when its credentials are configured.
package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/providers/mailgun"
	"github.com/ignite/mailbridge/internal/providers/mailjet"
	"github.com/ignite/mailbridge/internal/providers/mailpace"
	"github.com/ignite/mailbridge/internal/providers/mailtrap"
	"github.com/ignite/mailbridge/internal/providers/resend"
	"github.com/ignite/mailbridge/internal/providers/responsys"
	"github.com/ignite/mailbridge/internal/providers/sendgrid"
	"github.com/ignite/mailbridge/internal/providers/ses"
	"github.com/ignite/mailbridge/internal/providers/sparkpost"
	"github.com/ignite/mailbridge/internal/providers/unisender"
)

// BuildRegistry registers a send backend and webhook parsers for every
// provider with credentials configured.
func BuildRegistry(ctx context.Context, cfg *config.Config) (*backend.Registry, error) {
	registry := backend.NewRegistry()
	caps := backend.Caps{Permissive: cfg.Send.Permissive}

	if cfg.SparkPost.APIKey != "" {
		registry.RegisterBackend(sparkpost.NewBackend(cfg.SparkPost, caps))
		registry.RegisterTracking(sparkpost.NewWebhook())
		registry.RegisterInbound(sparkpost.NewWebhook())
	}
	if cfg.Mailgun.APIKey != "" {
		registry.RegisterBackend(mailgun.NewBackend(cfg.Mailgun, caps))
		hook := mailgun.NewWebhook(cfg.Mailgun.SigningKey)
		registry.RegisterTracking(hook)
		registry.RegisterInbound(hook)
	}
	if cfg.SES.Region != "" && (cfg.SES.AccessKey != "" || os.Getenv("AWS_EXECUTION_ENV") != "") {
		b, err := ses.NewBackend(ctx, cfg.SES, caps)
		if err != nil {
			return nil, fmt.Errorf("initializing ses backend: %w", err)
		}
		registry.RegisterBackend(b)
		registry.RegisterTracking(ses.NewWebhook())
		registry.RegisterInbound(ses.NewWebhook())
	}
	if cfg.Mailjet.APIKey != "" {
		registry.RegisterBackend(mailjet.NewBackend(cfg.Mailjet, caps))
		registry.RegisterTracking(mailjet.NewWebhook())
	}
	if cfg.MailPace.ServerToken != "" {
		registry.RegisterBackend(mailpace.NewBackend(cfg.MailPace, caps))
		hook, err := mailpace.NewWebhook(cfg.MailPace.WebhookKey)
		if err != nil {
			return nil, fmt.Errorf("initializing mailpace webhook: %w", err)
		}
		registry.RegisterTracking(hook)
		registry.RegisterInbound(hook)
	}
	if cfg.Mailtrap.APIToken != "" {
		registry.RegisterBackend(mailtrap.NewBackend(cfg.Mailtrap, caps))
		registry.RegisterTracking(mailtrap.NewWebhook())
	}
	if cfg.Resend.APIKey != "" {
		registry.RegisterBackend(resend.NewBackend(cfg.Resend, caps))
		registry.RegisterTracking(resend.NewWebhook())
	}
	if cfg.SendGrid.APIKey != "" {
		registry.RegisterBackend(sendgrid.NewBackend(cfg.SendGrid, caps))
		hook, err := sendgrid.NewWebhook(cfg.SendGrid.WebhookKey)
		if err != nil {
			return nil, fmt.Errorf("initializing sendgrid webhook: %w", err)
		}
		registry.RegisterTracking(hook)
		registry.RegisterInbound(hook)
	}
	if cfg.Unisender.APIKey != "" && cfg.Unisender.BaseURL != "" {
		registry.RegisterBackend(unisender.NewBackend(cfg.Unisender, caps))
		registry.RegisterTracking(unisender.NewWebhook(cfg.Unisender.APIKey))
	}
	if cfg.Responsys.Username != "" {
		b, err := responsys.NewBackend(ctx, cfg.Responsys, caps)
		if err != nil {
			return nil, fmt.Errorf("initializing responsys backend: %w", err)
		}
		registry.RegisterBackend(b)
	}
	return registry, nil
}
