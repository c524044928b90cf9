package flashbotsextra

import (
	"context"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/go-utils/jsonrpc"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/holiman/uint256"
)

// RpcBlockClient hands sealed blocks to a remote block consumer.
type RpcBlockClient struct {
	URL string
}

func NewRpcBlockClient(URL string) *RpcBlockClient {
	return &RpcBlockClient{URL: URL}
}

// Publish sends the block with its raw transactions. The consumer accepting
// the request counts as published.
func (r *RpcBlockClient) Publish(ctx context.Context, block *gethtypes.Block, value *uint256.Int) (bool, error) {
	txs := make([]string, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		wrapped, err := types.WrapTransaction(tx)
		if err != nil {
			return false, err
		}
		txs = append(txs, wrapped.Raw.String())
	}

	reqrpc := jsonrpc.JSONRPCRequest{
		ID:      nil,
		Method:  "block_consumeBuiltBlock",
		Version: "2.0",
		Params:  []interface{}{block.Header(), value, txs},
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	resp, err := jsonrpc.SendJSONRPCRequest(reqrpc, r.URL)
	if err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, resp.Error
	}
	return true, nil
}
