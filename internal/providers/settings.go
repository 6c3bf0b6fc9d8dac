package providers

import (
	"context"
	"sync/atomic"

	"github.com/lumenandco/atelier-backend/pkg/config"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
)

// Credentials is an immutable snapshot of provider secrets. Callers read a
// snapshot once per request; a reload never mutates a snapshot already handed
// out.
type Credentials struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	PayPalClientID      string
	PayPalSecret        string
}

// Settings holds the current credentials snapshot behind an atomic pointer so
// the process can pick up rotated secrets without a restart.
type Settings struct {
	current atomic.Pointer[Credentials]
	load    func() (*Credentials, error)
	log     *logger.Logger
}

// NewSettings builds the settings store and performs the initial load.
func NewSettings(load func() (*Credentials, error), log *logger.Logger) (*Settings, error) {
	if load == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settings loader is required")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	s := &Settings{load: load, log: log}
	creds, err := load()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading provider credentials")
	}
	s.current.Store(creds)
	return s, nil
}

// CredentialsFromConfig adapts the process config into a settings loader.
func CredentialsFromConfig(cfg *config.Config) func() (*Credentials, error) {
	return func() (*Credentials, error) {
		if cfg == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "config is required")
		}
		return &Credentials{
			StripeAPIKey:        cfg.Stripe.APIKey,
			StripeWebhookSecret: cfg.Stripe.WebhookSecret,
			StripeSuccessURL:    cfg.Stripe.SuccessURL,
			StripeCancelURL:     cfg.Stripe.CancelURL,
			PayPalClientID:      cfg.PayPal.ClientID,
			PayPalSecret:        cfg.PayPal.Secret,
		}, nil
	}
}

// Current returns the latest snapshot. Safe for concurrent use.
func (s *Settings) Current() *Credentials {
	return s.current.Load()
}

// StripeWebhookSecret returns the signing secret from the current snapshot.
func (s *Settings) StripeWebhookSecret() string {
	return s.Current().StripeWebhookSecret
}

// Reload re-runs the loader and swaps the snapshot in. In-flight requests
// keep the snapshot they already read.
func (s *Settings) Reload(ctx context.Context) error {
	creds, err := s.load()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reloading provider credentials")
	}
	s.current.Store(creds)
	s.log.Info(ctx, "provider credentials reloaded")
	return nil
}
