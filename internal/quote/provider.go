// Package quote provides quote providers and the gateway that fronts them.
package quote

import (
	"context"
	"net/http"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
	"stock-alert/internal/security"
)

// Provider fetches a quote for one ticker. Failures are returned as
// *errors.ProviderError carrying a FailureKind.
type Provider interface {
	Name() string
	Ready() bool
	Fetch(ctx context.Context, ticker string) (*models.Quote, error)
}

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=quote_test -destination=mock_http_client_test.go -source=provider.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Unconfigured is the provider used when no valid provider is selected. It
// always fails with AuthMissing.
type Unconfigured struct {
	name string
}

// NewUnconfigured creates an Unconfigured provider reporting name.
func NewUnconfigured(name string) *Unconfigured {
	if name == "" {
		name = "unconfigured"
	}
	return &Unconfigured{name: name}
}

func (u *Unconfigured) Name() string { return u.name }

func (u *Unconfigured) Ready() bool { return false }

func (u *Unconfigured) Fetch(_ context.Context, ticker string) (*models.Quote, error) {
	return nil, apperrors.NewProviderError(u.name, ticker, apperrors.KindAuthMissing, "provider not configured", nil)
}

func failure(provider, ticker string, kind apperrors.FailureKind, msg string, err error) error {
	return apperrors.NewProviderError(provider, ticker, kind, msg, security.ScrubError(err))
}
