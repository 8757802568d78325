package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/hycredit/internal/monitoring"
)

const defaultLedgerTimeout = 5 * time.Second

// Node reports the latest block seen by the ledger node.
type Node interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Queue reports the ledger synchroniser backlog.
type Queue interface {
	Backlog() (queued, capacity int)
}

// Ledger probes the ledger node and the synchroniser queue. A full queue
// degrades the probe because new approvals then rely on reconciliation.
func Ledger(node Node, queue Queue, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("ledger", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultLedgerTimeout))
		defer cancel()

		block, err := node.BlockNumber(probeCtx)
		if err != nil {
			return monitoring.ResultFromError("ledger", err, time.Since(start))
		}

		result := monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("block %d", block),
			Duration: time.Since(start),
		}
		if queue != nil {
			queued, capacity := queue.Backlog()
			if capacity > 0 && queued >= capacity {
				result.Status = monitoring.StatusDegraded
				result.Details = fmt.Sprintf("block %d; queue full (%d)", block, capacity)
			}
		}
		return result
	})
}
