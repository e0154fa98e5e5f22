package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"time26-oracle/internal/settlement"
)

const (
	erc20ABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	distributorABIJSON = `[
{"inputs":[],"name":"initialDeposit","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalBurned","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalClaimed","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	// DefaultGasLimit approximates a gasless mint through the forwarder.
	DefaultGasLimit = 250_000
)

var (
	erc20ABI       abi.ABI
	distributorABI abi.ABI

	// ErrNotConfigured is returned when the RPC endpoint or contract addresses are missing.
	ErrNotConfigured = errors.New("chain: polygon rpc or contract address not configured")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed

	parsed, err = abi.JSON(strings.NewReader(distributorABIJSON))
	if err != nil {
		panic("failed to parse distributor ABI: " + err.Error())
	}
	distributorABI = parsed
}

// Options parameterise the Polygon reader.
type Options struct {
	RPCURL             string
	TokenAddress       string
	DistributorAddress string
	Timeout            time.Duration
}

// Reader reads TIME26 distributor state and gas prices from Polygon.
type Reader struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewReader builds a reader; the RPC connection is dialled lazily.
func NewReader(opts Options, logger zerolog.Logger) *Reader {
	return &Reader{opts: opts, logger: logger.With().Str("component", "chain_reader").Logger()}
}

// Balances returns the distributor's reconciliation figures and the block they were read at.
func (r *Reader) Balances(ctx context.Context) (settlement.Balances, uint64, error) {
	if r.opts.RPCURL == "" || r.opts.TokenAddress == "" || r.opts.DistributorAddress == "" {
		return settlement.Balances{}, 0, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return settlement.Balances{}, 0, err
	}

	// Pin every call to one block so the four figures are consistent.
	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return settlement.Balances{}, 0, fmt.Errorf("block number: %w", err)
	}
	block := new(big.Int).SetUint64(blockNumber)

	token := common.HexToAddress(r.opts.TokenAddress)
	distributor := common.HexToAddress(r.opts.DistributorAddress)

	contractBalance, err := r.callUint(ctx, client, erc20ABI, token, block, "balanceOf", distributor)
	if err != nil {
		return settlement.Balances{}, 0, err
	}
	initial, err := r.callUint(ctx, client, distributorABI, distributor, block, "initialDeposit")
	if err != nil {
		return settlement.Balances{}, 0, err
	}
	burned, err := r.callUint(ctx, client, distributorABI, distributor, block, "totalBurned")
	if err != nil {
		return settlement.Balances{}, 0, err
	}
	claimed, err := r.callUint(ctx, client, distributorABI, distributor, block, "totalClaimed")
	if err != nil {
		return settlement.Balances{}, 0, err
	}

	return settlement.Balances{
		InitialDeposit:  initial,
		ContractBalance: contractBalance,
		TotalBurned:     burned,
		TotalClaimed:    claimed,
	}, blockNumber, nil
}

// EstimateGasWei returns gasLimit * the node's suggested gas price, in POL wei.
func (r *Reader) EstimateGasWei(ctx context.Context, gasLimit uint64) (*uint256.Int, error) {
	if r.opts.RPCURL == "" {
		return nil, ErrNotConfigured
	}
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return nil, err
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice, overflow := uint256.FromBig(price)
	if overflow {
		return nil, errors.New("chain: gas price overflows uint256")
	}
	cost, overflow := new(uint256.Int).MulOverflow(gasPrice, uint256.NewInt(gasLimit))
	if overflow {
		return nil, errors.New("chain: gas cost overflows uint256")
	}
	return cost, nil
}

func (r *Reader) callUint(ctx context.Context, client *ethclient.Client, contract abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) (*uint256.Int, error) {
	payload, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return decodeUint(contract, method, res)
}

func decodeUint(contract abi.ABI, method string, data []byte) (*uint256.Int, error) {
	outputs, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%s output overflows uint256", method)
	}
	return out, nil
}

func (r *Reader) timeout() time.Duration {
	if r.opts.Timeout > 0 {
		return r.opts.Timeout
	}
	return 10 * time.Second
}

func (r *Reader) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

// Close releases the RPC connection.
func (r *Reader) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}
