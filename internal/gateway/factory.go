package gateway

import (
	"fmt"
	"log/slog"

	"tv-executor/internal/domain"
	bn "tv-executor/pkg/exchanges/binance"
	bnfut "tv-executor/pkg/exchanges/binance/futures_usdt"
	bnspot "tv-executor/pkg/exchanges/binance/spot"
	"tv-executor/pkg/exchanges/bitget"
	"tv-executor/pkg/exchanges/bybit"
	"tv-executor/pkg/exchanges/common"
	"tv-executor/pkg/exchanges/okx"
)

// Credentials is one venue's API access. Password is the OKX/Bitget passphrase.
type Credentials struct {
	APIKey   string
	Secret   string
	Password string
}

// Options are passed to every connector the factory builds.
type Options struct {
	Testnet    bool
	MaxRetries int
	Logger     *slog.Logger
}

// Factory builds a connector for one market of a venue.
type Factory func(ex domain.ExchangeID, market common.MarketType, creds Credentials, opts Options) (common.Connector, error)

// DefaultFactory creates the live REST connectors.
func DefaultFactory(ex domain.ExchangeID, market common.MarketType, creds Credentials, opts Options) (common.Connector, error) {
	switch ex {
	case domain.ExchangeBinance:
		cfg := bn.Config{APIKey: creds.APIKey, APISecret: creds.Secret, Testnet: opts.Testnet, MaxRetries: opts.MaxRetries, Logger: opts.Logger}
		if market == common.MarketSwap {
			return bnfut.NewClient(cfg), nil
		}
		return bnspot.New(cfg), nil

	case domain.ExchangeBybit:
		return bybit.New(bybit.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.Secret,
			Testnet:    opts.Testnet,
			MaxRetries: opts.MaxRetries,
			Logger:     opts.Logger,
		}, market), nil

	case domain.ExchangeOKX:
		return okx.New(okx.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.Secret,
			Passphrase: creds.Password,
			Testnet:    opts.Testnet,
			MaxRetries: opts.MaxRetries,
			Logger:     opts.Logger,
		}, market), nil

	case domain.ExchangeBitget:
		return bitget.New(bitget.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.Secret,
			Passphrase: creds.Password,
			Testnet:    opts.Testnet,
			MaxRetries: opts.MaxRetries,
			Logger:     opts.Logger,
		}, market), nil

	default:
		return nil, fmt.Errorf("unsupported exchange: %s", ex)
	}
}

// Market maps the resolved market type onto the connector market.
func Market(m domain.MarketType) common.MarketType {
	if m == domain.MarketDerivative {
		return common.MarketSwap
	}
	return common.MarketSpot
}
