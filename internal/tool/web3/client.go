package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "OpenPrompt-Chain/internal/errors"
)

// Config describes how to reach an EVM compatible endpoint.
type Config struct {
	RPCURL string
}

// Snapshot 汇总一次链上查询得到的观察结果。
type Snapshot struct {
	ChainID     string
	BlockNumber string
	Address     string
	Balance     string
}

// Tool 通过以太坊节点为链提供实时链上观察。
type Tool struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.Mutex
	chainID   *big.Int
}

// New dials the configured RPC endpoint and returns a ready-to-use tool.
func New(ctx context.Context, cfg Config) (*Tool, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Tool{
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name 实现 tool.Tool 接口。
func (t *Tool) Name() string {
	return "web3_snapshot"
}

// Description 实现 tool.Tool 接口。
func (t *Tool) Description() string {
	return "查询链 ID 与最新区块高度；当输入包含 address 时附带该地址的余额(wei)。"
}

// Call 实现 tool.Tool 接口。观察结果渲染为单行文本。
func (t *Tool) Call(ctx context.Context, input map[string]any) (string, error) {
	snapshot, err := t.Fetch(ctx, addressFrom(input))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("chain_id=%s block=%s", snapshot.ChainID, snapshot.BlockNumber))
	if snapshot.Address != "" {
		builder.WriteString(fmt.Sprintf(" address=%s balance_wei=%s", snapshot.Address, snapshot.Balance))
	}
	return builder.String(), nil
}

// Fetch gathers lightweight metadata from the chain.
func (t *Tool) Fetch(ctx context.Context, address string) (Snapshot, error) {
	if t == nil || t.eth == nil {
		return Snapshot{}, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}

	chainID, err := t.cachedChainID(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeToolFailure, err, "获取链 ID 失败")
	}

	blockNumber, err := t.eth.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeToolFailure, err, "获取最新区块高度失败")
	}

	snapshot := Snapshot{
		ChainID:     chainID.String(),
		BlockNumber: fmt.Sprintf("%d", blockNumber),
	}

	address = strings.TrimSpace(address)
	if address != "" {
		if !common.IsHexAddress(address) {
			return Snapshot{}, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("非法的以太坊地址 %s", address))
		}
		balance, err := t.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return Snapshot{}, xerrors.Wrap(xerrors.CodeToolFailure, err, "查询地址余额失败")
		}
		snapshot.Address = address
		snapshot.Balance = balance.String()
	}
	return snapshot, nil
}

// Close releases network connections held by the tool.
func (t *Tool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eth != nil {
		t.eth.Close()
		t.eth = nil
	}
	if t.rpcClient != nil {
		t.rpcClient.Close()
		t.rpcClient = nil
	}
}

// cachedChainID 缓存链 ID，避免每次观察都发起一次 RPC。
func (t *Tool) cachedChainID(ctx context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chainID != nil {
		return t.chainID, nil
	}
	chainID, err := t.eth.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	t.chainID = chainID
	return chainID, nil
}

func addressFrom(input map[string]any) string {
	if input == nil {
		return ""
	}
	if raw, ok := input["address"]; ok {
		if address, ok := raw.(string); ok {
			return address
		}
	}
	return ""
}
