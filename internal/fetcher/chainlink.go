package fetcher

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
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/storage"
)

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ContractCaller is the subset of ethclient.Client the Chainlink source needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkOptions parameterise the on-chain fetcher.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// Chainlink reads the XAU/USD aggregator via Ethereum RPC and converts it to CNY per gram.
type Chainlink struct {
	opts      ChainlinkOptions
	fx        *FXRate
	clock     clock.Clock
	logger    zerolog.Logger
	caller    ContractCaller
	clientMux sync.Mutex
}

// NewChainlink builds a new Chainlink fetcher.
func NewChainlink(opts ChainlinkOptions, fx *FXRate, clk clock.Clock, logger zerolog.Logger) *Chainlink {
	if clk == nil {
		clk = clock.System{}
	}
	return &Chainlink{opts: opts, fx: fx, clock: clk, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// WithCaller swaps the RPC client, mainly for tests.
func (c *Chainlink) WithCaller(caller ContractCaller) *Chainlink {
	c.caller = caller
	return c
}

// Name implements PriceSource.
func (c *Chainlink) Name() string { return "chainlink" }

// FetchPrice implements PriceSource.
func (c *Chainlink) FetchPrice(ctx context.Context) (storage.PriceSample, error) {
	if c.caller == nil && c.opts.RPCURL == "" {
		return storage.PriceSample{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.FeedAddress == "" {
		return storage.PriceSample{}, errors.New("chainlink feed address not configured")
	}
	if c.fx == nil {
		return storage.PriceSample{}, errors.New("fx rate helper not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(callCtx)
	if err != nil {
		return storage.PriceSample{}, err
	}

	addr := common.HexToAddress(c.opts.FeedAddress)

	decOut, err := c.call(callCtx, caller, addr, "decimals")
	if err != nil {
		return storage.PriceSample{}, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return storage.PriceSample{}, errors.New("failed to decode decimals output")
	}

	roundOut, err := c.call(callCtx, caller, addr, "latestRoundData")
	if err != nil {
		return storage.PriceSample{}, err
	}
	if len(roundOut) != 5 {
		return storage.PriceSample{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok {
		return storage.PriceSample{}, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return storage.PriceSample{}, fmt.Errorf("aggregator answer %s is not positive", answer)
	}

	usdPerOz := decimal.NewFromBigInt(answer, -int32(decimals))
	rate := c.fx.CNYPerUSD(ctx)
	price := usdPerOunceToCNYPerGram(usdPerOz, rate)
	c.logger.Debug().Str("usd_per_oz", usdPerOz.String()).Str("cny_rate", rate.String()).Msg("converted on-chain quote")

	return storage.PriceSample{Price: price, Source: c.Name(), Timestamp: c.clock.Now()}, nil
}

func (c *Chainlink) call(ctx context.Context, caller ContractCaller, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return outputs, nil
}

func (c *Chainlink) getCaller(ctx context.Context) (ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ PriceSource = (*Chainlink)(nil)
