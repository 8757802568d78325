package app

import (
	"time"

	"github.com/charlesng35/hycredit/internal/ledger"
)

const defaultStaleAfter = 10 * time.Minute

// EthConfig converts LedgerConfig into Ethereum client settings.
func (c LedgerConfig) EthConfig() ledger.EthConfig {
	return ledger.EthConfig{
		RPCURL:          c.RPCURL,
		ContractAddress: c.ContractAddress,
		IssuerAccount:   c.IssuerAccount,
		AmountDecimals:  c.AmountDecimals,
		Gas:             c.Gas,
		RequestTimeout:  c.RequestTimeout,
	}
}

// SynchronizerConfig converts LedgerConfig into worker pool settings. Zero
// values fall back to the synchronizer's own defaults.
func (c LedgerConfig) SynchronizerConfig() ledger.Config {
	return ledger.Config{
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		RequestTimeout: c.RequestTimeout,
		Retry: ledger.RetryConfig{
			InitialDelay: c.Retry.InitialDelay,
			MaxDelay:     c.Retry.MaxDelay,
			Factor:       c.Retry.Factor,
			MaxAttempts:  c.Retry.MaxAttempts,
		},
	}
}

// StaleAnchorAge is how long a request may wait on the ledger before
// reconciliation queues it again.
func (c LedgerConfig) StaleAnchorAge() time.Duration {
	if c.StaleAfter <= 0 {
		return defaultStaleAfter
	}
	return c.StaleAfter
}
