package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/quarrypool/quarry/pkg/circuit"
	"github.com/quarrypool/quarry/pkg/errors"
	"github.com/quarrypool/quarry/pkg/retry"
)

// RPCClient implements Client over Bitcoin Core's JSON-RPC API using
// btcd's client. Read paths go through a circuit breaker with retries;
// block submission bypasses retry entirely.
type RPCClient struct {
	client         *rpcclient.Client
	chainParams    *chaincfg.Params
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	rpcTimeout     time.Duration
}

// RPCConfig holds connection parameters for the full node.
type RPCConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
	Params   *chaincfg.Params
}

// NewRPCClient creates a client for a local Bitcoin Core deployment,
// HTTP POST mode with TLS disabled.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNode, "rpc_client_creation",
			"failed to create node RPC client").
			WithContext("host", cfg.Host).
			WithContext("port", cfg.Port)
	}

	params := cfg.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RPCClient{
		client:      client,
		chainParams: params,
		circuitBreaker: circuit.New(&circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         timeout,
			ResetTimeout:    30 * time.Second,
		}),
		retryConfig: retry.NetworkConfig(),
		rpcTimeout:  timeout,
	}, nil
}

func (c *RPCClient) Close() {
	c.client.Shutdown()
}

func (c *RPCClient) GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*btcjson.GetBlockTemplateResult, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*btcjson.GetBlockTemplateResult, error) {
			req := &btcjson.TemplateRequest{
				Mode:         "template",
				Capabilities: []string{"coinbasetxn", "workid", "coinbase/append"},
				Rules:        []string{"segwit"},
			}

			template, err := c.client.GetBlockTemplateAsync(req).Receive()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeNode, "get_block_template",
					"failed to retrieve block template")
			}
			return template, nil
		})
	})
}

// SubmitBlock validates and submits a solved block. No retry: a rejection
// or timeout is surfaced immediately so the server can keep serving work.
func (c *RPCClient) SubmitBlock(ctx context.Context, blockHex string) error {
	blockBytes, err := hex.DecodeString(blockHex)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "block_validation",
			"invalid block hex encoding").
			WithContext("block_hex_length", len(blockHex))
	}

	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(blockBytes)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "block_deserialization",
			"failed to deserialize block data").
			WithContext("block_size", len(blockBytes))
	}

	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	return c.circuitBreaker.Execute(ctx, func() error {
		err := c.client.SubmitBlockAsync(btcutil.NewBlock(block), nil).Receive()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeNode, "submit_block",
				"failed to submit block to node").
				WithContext("block_hash", block.BlockHash().String())
		}
		return nil
	})
}

func (c *RPCClient) GetDifficulty(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (float64, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (float64, error) {
			difficulty, err := c.client.GetDifficultyAsync().Receive()
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeNode, "get_difficulty",
					"failed to retrieve network difficulty")
			}
			return difficulty, nil
		})
	})
}

// CreateRawTransaction builds an unsigned transaction with one output per
// miner address. The node wallet selects inputs during signing.
func (c *RPCClient) CreateRawTransaction(ctx context.Context, outputs map[string]int64) (string, error) {
	if len(outputs) == 0 {
		return "", errors.New(errors.ErrorTypeValidation, "create_raw_transaction",
			"no outputs provided")
	}

	amounts := make(map[btcutil.Address]btcutil.Amount, len(outputs))
	for addr, sats := range outputs {
		decoded, err := btcutil.DecodeAddress(addr, c.chainParams)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "create_raw_transaction",
				"invalid payout address").
				WithContext("address", addr)
		}
		amounts[decoded] = btcutil.Amount(sats)
	}

	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (string, error) {
		tx, err := c.client.CreateRawTransactionAsync(nil, amounts, nil).Receive()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeNode, "create_raw_transaction",
				"failed to create raw transaction").
				WithContext("output_count", len(outputs))
		}

		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeInternal, "create_raw_transaction",
				"failed to serialize raw transaction")
		}
		return hex.EncodeToString(buf.Bytes()), nil
	})
}

// SignAndSendRawTransaction signs with the node wallet and broadcasts.
// Not retried: a duplicate broadcast of a payout batch would double-pay.
func (c *RPCClient) SignAndSendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	txBytes, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "sign_and_send",
			"invalid raw transaction hex")
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "sign_and_send",
			"failed to deserialize raw transaction")
	}

	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (string, error) {
		signed, complete, err := c.client.SignRawTransactionWithWallet(tx)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeNode, "sign_raw_transaction",
				"failed to sign raw transaction")
		}
		if !complete {
			return "", errors.New(errors.ErrorTypeNode, "sign_raw_transaction",
				"wallet could not fully sign transaction")
		}

		txHash, err := c.client.SendRawTransactionAsync(signed, false).Receive()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeNode, "send_raw_transaction",
				"failed to broadcast transaction")
		}
		return txHash.String(), nil
	})
}

func (c *RPCClient) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	err := c.circuitBreaker.Execute(ctx, func() error {
		return c.client.PingAsync().Receive()
	})
	return err == nil
}

var _ Client = (*RPCClient)(nil)
