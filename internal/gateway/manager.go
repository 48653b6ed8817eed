// Package gateway builds exchange connectors on first use and caches them per
// venue and market.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tv-executor/internal/domain"
	"tv-executor/pkg/exchanges/common"
	"tv-executor/pkg/exchanges/paper"
)

// Config holds configuration for the Manager.
type Config struct {
	Credentials map[domain.ExchangeID]Credentials // complete credential sets only
	Incomplete  map[domain.ExchangeID]string      // first missing key of partial sets
	Testnet     bool
	MaxRetries  int           // metadata loading attempts
	LoadTimeout time.Duration // bound on loading markets for a new connector
	DryRun      bool          // wrap connectors in the paper simulator
	Slippage    float64       // paper fill slippage
	FeeRate     float64       // paper fee per fill, fraction of notional
}

// CachedConnector holds a connector with metadata for Stats.
type CachedConnector struct {
	Connector common.Connector
	Exchange  domain.ExchangeID
	Market    common.MarketType
	CreatedAt time.Time
	LastUsed  time.Time
}

// Manager hands out one connector per (exchange, market). It is safe for
// concurrent use; concurrent first requests share one construction.
type Manager struct {
	mu         sync.RWMutex
	connectors map[string]*CachedConnector
	group      singleflight.Group

	config  Config
	factory Factory
	logger  *slog.Logger
}

// NewManager creates a manager. A nil factory means DefaultFactory.
func NewManager(cfg Config, factory Factory, logger *slog.Logger) *Manager {
	if factory == nil {
		factory = DefaultFactory
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	return &Manager{
		connectors: make(map[string]*CachedConnector),
		config:     cfg,
		factory:    factory,
		logger:     logger,
	}
}

// Configured lists the exchanges that have credentials, sorted.
func (m *Manager) Configured() []string {
	names := make([]string, 0, len(m.config.Credentials))
	for ex := range m.config.Credentials {
		names = append(names, string(ex))
	}
	sort.Strings(names)
	return names
}

// Get returns the connector for ex and market, constructing it on first use.
// Missing credentials yield ConfigurationError and construction failures
// yield ExchangeError; neither is cached.
func (m *Manager) Get(ctx context.Context, ex domain.ExchangeID, market domain.MarketType) (common.Connector, error) {
	creds, ok := m.config.Credentials[ex]
	if !ok && !m.config.DryRun {
		return nil, domain.NewConfigurationError("No credentials found for exchange: "+string(ex), m.missingKey(ex))
	}

	cm := Market(market)
	key := string(ex) + "/" + string(cm)

	m.mu.RLock()
	cached, hit := m.connectors[key]
	m.mu.RUnlock()
	if hit {
		m.touch(key)
		return cached.Connector, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.RLock()
		cached, hit := m.connectors[key]
		m.mu.RUnlock()
		if hit {
			return cached.Connector, nil
		}
		return m.create(ctx, key, ex, cm, creds)
	})
	if err != nil {
		return nil, err
	}
	return v.(common.Connector), nil
}

func (m *Manager) create(ctx context.Context, key string, ex domain.ExchangeID, market common.MarketType, creds Credentials) (common.Connector, error) {
	start := time.Now()
	conn, err := m.factory(ex, market, creds, Options{
		Testnet:    m.config.Testnet,
		MaxRetries: m.config.MaxRetries,
		Logger:     m.logger,
	})
	if err != nil {
		return nil, domain.NewExchangeError(string(ex), "Failed to initialize exchange: "+err.Error(), common.ClassOf(err), err)
	}
	if m.config.DryRun {
		conn = paper.New(conn, paper.SimConfig{Slippage: m.config.Slippage, FeeRate: m.config.FeeRate}, m.logger)
	}

	// Loading is shared by every waiter, so it must not die with the first caller.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.LoadTimeout)
	defer cancel()
	if loader, ok := conn.(common.MarketLoader); ok {
		if err := loader.LoadMarkets(lctx); err != nil {
			return nil, domain.NewExchangeError(string(ex), fmt.Sprintf("Failed to initialize exchange: %v", err), common.ClassOf(err), err)
		}
	}

	now := time.Now()
	m.mu.Lock()
	m.connectors[key] = &CachedConnector{Connector: conn, Exchange: ex, Market: market, CreatedAt: now, LastUsed: now}
	m.mu.Unlock()
	m.logger.Info("connector ready", "exchange", ex, "market", market, "dry_run", m.config.DryRun, "took", time.Since(start))
	return conn, nil
}

func (m *Manager) missingKey(ex domain.ExchangeID) string {
	if key, ok := m.config.Incomplete[ex]; ok {
		return key
	}
	return strings.ToUpper(string(ex)) + "_API_KEY"
}

// Stats returns current cache statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := PoolStats{Total: len(m.connectors), ByExchange: make(map[string]int)}
	for _, c := range m.connectors {
		stats.ByExchange[string(c.Exchange)]++
	}
	return stats
}

// PaperBooks returns the simulated account of every cached paper connector,
// keyed by exchange/market. It is empty outside dry-run mode.
func (m *Manager) PaperBooks() map[string]paper.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make(map[string]paper.Book)
	for key, c := range m.connectors {
		if pc, ok := c.Connector.(*paper.Connector); ok {
			books[key] = pc.Book()
		}
	}
	return books
}

// PoolStats contains cache statistics.
type PoolStats struct {
	Total      int            `json:"total"`
	ByExchange map[string]int `json:"by_exchange"`
}

func (m *Manager) touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connectors[key]; ok {
		c.LastUsed = time.Now()
	}
}
