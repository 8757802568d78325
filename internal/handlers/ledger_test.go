package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hycredit/internal/handlers/testutil"
	"github.com/charlesng35/hycredit/internal/ledger"
)

var anchorTx = "0x" + strings.Repeat("ab", 32)

// unminedLedger accepts every submission but never reports it mined.
type unminedLedger struct {
	mu          sync.Mutex
	submissions int
}

func (l *unminedLedger) SubmitIssuance(context.Context, ledger.IssuancePayload) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submissions++
	return anchorTx, nil
}

func (l *unminedLedger) Confirmation(context.Context, string) (*ledger.Confirmation, error) {
	return nil, nil
}

func TestLedgerHandlerManualConfirmation(t *testing.T) {
	client := &unminedLedger{}
	env := testutil.NewEnv(t, testutil.WithLedger(client))

	req := submitRequest(t, env, "BATCH-L1")
	approved := approveRequest(t, env, req.RequestID, "75.5")
	require.Equal(t, "BLOCKCHAIN_PENDING", approved.Status)
	require.Equal(t, "PENDING", approved.BlockchainData.BlockchainStatus)

	// no credit exists until the ledger confirms
	w := env.Request(http.MethodGet, "/api/credits", nil, env.Token(testutil.Operator))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.EqualValues(t, 0, testutil.DecodeResponse(t, w).Meta.Total)

	require.NoError(t, env.Services.Ledger.Process(t.Context(), req.RequestID))
	require.Equal(t, 1, client.submissions)

	w = env.Request(http.MethodGet, "/api/requests/"+req.RequestID, nil, env.Token(testutil.Operator))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var failed requestView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &failed)
	require.Equal(t, "APPROVED", failed.Status)
	require.Equal(t, "FAILED", failed.BlockchainData.BlockchainStatus)
	require.Equal(t, anchorTx, failed.BlockchainData.TransactionHash)

	confirmation := map[string]any{
		"transactionHash": strings.ToUpper(anchorTx[2:]),
		"blockNumber":     1200,
		"gasUsed":         21000,
		"creditId":        "HC-ONCHAIN-9",
	}

	w = env.Request(http.MethodPost, "/api/ledger/confirmations", confirmation, env.Token(testutil.Certifier))
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	confirmation["transactionHash"] = anchorTx
	w = env.Request(http.MethodPost, "/api/ledger/confirmations", confirmation, env.Token(testutil.Operator))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var confirmed requestView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &confirmed)
	require.Equal(t, "APPROVED", confirmed.Status)
	require.Equal(t, "CONFIRMED", confirmed.BlockchainData.BlockchainStatus)
	require.True(t, confirmed.BlockchainData.IsOnBlockchain)
	require.Equal(t, "HC-ONCHAIN-9", confirmed.CreditDetails.CreditID)

	// a repeated confirmation is a no-op
	w = env.Request(http.MethodPost, "/api/ledger/confirmations", confirmation, env.Token(testutil.Operator))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/credits/HC-ONCHAIN-9", nil, env.Token(testutil.Producer))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var credit creditView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &credit)
	require.Equal(t, "75.5", credit.IssuedAmount)
	require.Equal(t, testutil.Producer.ID, credit.CurrentOwner)

	w = env.Request(http.MethodGet, "/api/credits", nil, env.Token(testutil.Operator))
	require.EqualValues(t, 1, testutil.DecodeResponse(t, w).Meta.Total)

	w = env.Request(http.MethodPost, "/api/ledger/confirmations", map[string]any{"blockNumber": 1}, env.Token(testutil.Operator))
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestLedgerHandlerResubmit(t *testing.T) {
	client := &unminedLedger{}
	env := testutil.NewEnv(t, testutil.WithLedger(client))

	req := submitRequest(t, env, "BATCH-L2")
	approveRequest(t, env, req.RequestID, "10")

	path := "/api/requests/" + req.RequestID + "/ledger/resubmit"

	// still pending, nothing to resubmit
	w := env.Request(http.MethodPost, path, nil, env.Token(testutil.Operator))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	require.NoError(t, env.Services.Ledger.Process(t.Context(), req.RequestID))

	w = env.Request(http.MethodPost, path, nil, env.Token(testutil.Producer))
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, path, nil, env.Token(testutil.Operator))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var reopened requestView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &reopened)
	require.Equal(t, "BLOCKCHAIN_PENDING", reopened.Status)
	require.Equal(t, "PENDING", reopened.BlockchainData.BlockchainStatus)
	require.Equal(t, anchorTx, reopened.BlockchainData.TransactionHash)

	// the approval already queued it and the queue holds each request once
	queued, _ := env.Services.Ledger.Backlog()
	require.Equal(t, 1, queued)

	// the unmined transaction is polled again, never broadcast a second time
	require.NoError(t, env.Services.Ledger.Process(t.Context(), req.RequestID))
	client.mu.Lock()
	require.Equal(t, 1, client.submissions)
	client.mu.Unlock()
}

func TestLedgerRoutesAbsentWithoutAnchoring(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/ledger/confirmations", map[string]any{"transactionHash": anchorTx}, env.Token(testutil.Operator))
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}
