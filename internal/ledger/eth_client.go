package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"

	"github.com/charlesng35/hycredit/internal/fingerprint"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
)

const hydrogenCreditABI = `[
	{
		"type": "function",
		"name": "issueCredit",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "producer", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "metadataHash", "type": "bytes32"},
			{"name": "attestation", "type": "bytes32"}
		],
		"outputs": [{"name": "creditId", "type": "uint256"}]
	},
	{
		"type": "event",
		"name": "CreditIssued",
		"anonymous": false,
		"inputs": [
			{"name": "creditId", "type": "uint256", "indexed": true},
			{"name": "producer", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		]
	}
]`

// JSON-RPC error codes treated as retryable. The RPC backend reports transport
// failures as internal errors; nodes use limit-exceeded for rate limiting.
const (
	rpcInternalError int64 = -32603
	rpcLimitExceeded int64 = -32005
)

// EthConfig configures the Ethereum JSON-RPC client.
type EthConfig struct {
	RPCURL          string
	ContractAddress string
	IssuerAccount   string
	AmountDecimals  int32
	Gas             uint64
	RequestTimeout  time.Duration
}

// EthClient anchors issuances on the HydrogenCredit contract through a node's
// JSON-RPC interface. Transactions are signed by the node for the issuer account.
type EthClient struct {
	rpc          rpcbackend.RPC
	contract     *ethtypes.Address0xHex
	issuer       *ethtypes.Address0xHex
	decimals     int32
	gas          uint64
	issueCredit  *abi.Entry
	creditIssued *abi.Entry
}

type sendTransaction struct {
	From string                    `json:"from"`
	To   string                    `json:"to"`
	Data ethtypes.HexBytes0xPrefix `json:"data"`
	Gas  *ethtypes.HexInteger      `json:"gas,omitempty"`
}

type receiptLog struct {
	Address *ethtypes.Address0xHex      `json:"address"`
	Topics  []ethtypes.HexBytes0xPrefix `json:"topics"`
	Data    ethtypes.HexBytes0xPrefix   `json:"data"`
}

type transactionReceipt struct {
	TransactionHash ethtypes.HexBytes0xPrefix `json:"transactionHash"`
	BlockNumber     *ethtypes.HexInteger      `json:"blockNumber"`
	GasUsed         *ethtypes.HexInteger      `json:"gasUsed"`
	Status          *ethtypes.HexInteger      `json:"status"`
	Logs            []*receiptLog             `json:"logs"`
}

// NewEthClient parses the contract interface and prepares the JSON-RPC transport.
func NewEthClient(cfg EthConfig) (*EthClient, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("ledger: rpc url is required")
	}
	contract, err := ethtypes.NewAddress(cfg.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("ledger: contract address: %w", err)
	}
	issuer, err := ethtypes.NewAddress(cfg.IssuerAccount)
	if err != nil {
		return nil, fmt.Errorf("ledger: issuer account: %w", err)
	}

	var contractABI abi.ABI
	if err := json.Unmarshal([]byte(hydrogenCreditABI), &contractABI); err != nil {
		return nil, fmt.Errorf("ledger: parse contract abi: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.RPCURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &EthClient{
		rpc:          rpcbackend.NewRPCClient(httpClient),
		contract:     contract,
		issuer:       issuer,
		decimals:     cfg.AmountDecimals,
		gas:          cfg.Gas,
		issueCredit:  contractABI.Functions()["issueCredit"],
		creditIssued: contractABI.Events()["CreditIssued"],
	}, nil
}

// SubmitIssuance sends issueCredit from the issuer account.
func (c *EthClient) SubmitIssuance(ctx context.Context, payload IssuancePayload) (string, error) {
	callData, err := c.encodeIssue(ctx, payload)
	if err != nil {
		return "", err
	}

	tx := sendTransaction{
		From: c.issuer.String(),
		To:   c.contract.String(),
		Data: callData,
	}
	if c.gas > 0 {
		tx.Gas = ethtypes.NewHexInteger(new(big.Int).SetUint64(c.gas))
	}

	var txHash ethtypes.HexBytes0xPrefix
	if rpcErr := c.rpc.CallRPC(ctx, &txHash, "eth_sendTransaction", tx); rpcErr != nil {
		return "", classifyRPCError("eth_sendTransaction", rpcErr)
	}
	if len(txHash) != 32 {
		return "", appErrors.ErrLedgerPermanent.WithMessage("node returned malformed transaction hash %q", txHash.String())
	}
	return txHash.String(), nil
}

func (c *EthClient) encodeIssue(ctx context.Context, payload IssuancePayload) (ethtypes.HexBytes0xPrefix, error) {
	producer, err := ethtypes.NewAddress(payload.ProducerWallet)
	if err != nil {
		return nil, appErrors.ErrLedgerPermanent.WithMessage("producer wallet %q is not an address", payload.ProducerWallet).WithInternal(err)
	}
	metadata, err := fingerprint.Parse(payload.MetadataHash)
	if err != nil {
		return nil, appErrors.ErrLedgerPermanent.WithMessage("metadata hash %q is not a 32-byte digest", payload.MetadataHash).WithInternal(err)
	}

	units := payload.CreditAmount.Shift(c.decimals)
	if !units.IsInteger() || !units.IsPositive() {
		return nil, appErrors.ErrLedgerPermanent.WithMessage("credit amount %s is not representable with %d decimals", payload.CreditAmount, c.decimals)
	}

	params, err := json.Marshal(map[string]string{
		"producer":     producer.String(),
		"amount":       units.BigInt().String(),
		"metadataHash": metadata.String(),
		"attestation":  payload.CertifierAttestation.String(),
	})
	if err != nil {
		return nil, appErrors.ErrEncoding.WithInternal(err)
	}
	data, err := c.issueCredit.EncodeCallDataJSONCtx(ctx, params)
	if err != nil {
		return nil, appErrors.ErrLedgerPermanent.WithMessage("encode issueCredit call").WithInternal(err)
	}
	return data, nil
}

// Confirmation reads the receipt of txHash. It returns nil while the transaction
// is unmined.
func (c *EthClient) Confirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	var receipt *transactionReceipt
	if rpcErr := c.rpc.CallRPC(ctx, &receipt, "eth_getTransactionReceipt", txHash); rpcErr != nil {
		return nil, classifyRPCError("eth_getTransactionReceipt", rpcErr)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, nil
	}

	conf := &Confirmation{
		TxHash:      strings.ToLower(txHash),
		BlockNumber: receipt.BlockNumber.BigInt().Uint64(),
	}
	if receipt.GasUsed != nil {
		conf.GasUsed = receipt.GasUsed.BigInt().Uint64()
	}
	if receipt.Status == nil || receipt.Status.BigInt().Sign() == 0 {
		conf.FailureReason = "issuance transaction reverted"
		return conf, nil
	}

	creditID, err := c.creditIDFromLogs(ctx, receipt.Logs)
	if err != nil {
		return nil, err
	}
	conf.OnchainCreditID = creditID
	return conf, nil
}

func (c *EthClient) creditIDFromLogs(ctx context.Context, logs []*receiptLog) (string, error) {
	signature := c.creditIssued.SignatureHashBytes()
	for _, entry := range logs {
		if entry == nil || len(entry.Topics) == 0 || !bytes.Equal(entry.Topics[0], signature) {
			continue
		}
		if entry.Address != nil && !bytes.Equal(entry.Address[:], c.contract[:]) {
			continue
		}
		decoded, err := c.creditIssued.DecodeEventDataCtx(ctx, entry.Topics, entry.Data)
		if err != nil {
			return "", appErrors.ErrLedgerPermanent.WithMessage("decode CreditIssued event").WithInternal(err)
		}
		if len(decoded.Children) == 0 {
			break
		}
		if id, ok := decoded.Children[0].Value.(*big.Int); ok {
			return id.String(), nil
		}
	}
	return "", nil
}

// classifyRPCError maps JSON-RPC failures onto the ledger error kinds.
func classifyRPCError(method string, rpcErr *rpcbackend.RPCError) error {
	err := fmt.Errorf("%s: %w", method, rpcErr.Error())
	switch rpcErr.Code {
	case rpcInternalError, rpcLimitExceeded:
		return appErrors.ErrLedgerTransient.WithInternal(err)
	}
	return appErrors.ErrLedgerPermanent.WithMessage("ledger rejected %s: %s", method, rpcErr.Message).WithInternal(err)
}

// BlockNumber returns the node's latest block. It doubles as a reachability probe.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	var block ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &block, "eth_blockNumber"); rpcErr != nil {
		return 0, classifyRPCError("eth_blockNumber", rpcErr)
	}
	return block.BigInt().Uint64(), nil
}
