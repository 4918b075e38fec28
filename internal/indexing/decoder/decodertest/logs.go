// Package decodertest builds ABI-encoded contract logs for tests.
package decodertest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketindexer/internal/indexing/decoder"
)

// Contract is the address used for every generated log.
var Contract = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")

var registry = decoder.MustNew()

// Pos places a log in the chain.
type Pos struct {
	Block uint64
	Index uint
	Tx    common.Hash
}

// TxHash builds a deterministic transaction hash from n.
func TxHash(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

// MarketCreated encodes a MarketCreated log.
func MarketCreated(pos Pos, marketID int64, tweetID string, metric uint8, target int64, category string, creator common.Address) types.Log {
	topic, _ := registry.Topic(decoder.EventMarketCreated)
	data := mustPack(abi.Arguments{
		{Type: mustType("string")},
		{Type: mustType("uint8")},
		{Type: mustType("uint256")},
		{Type: mustType("string")},
	}, tweetID, metric, big.NewInt(target), category)

	return types.Log{
		Address:     Contract,
		Topics:      []common.Hash{topic, common.BigToHash(big.NewInt(marketID)), common.BytesToHash(creator.Bytes())},
		Data:        data,
		BlockNumber: pos.Block,
		TxHash:      pos.Tx,
		Index:       pos.Index,
	}
}

// SharesPurchased encodes a SharesPurchased log.
func SharesPurchased(pos Pos, marketID int64, buyer common.Address, isYes bool, usdc, shares, price int64) types.Log {
	topic, _ := registry.Topic(decoder.EventSharesPurchased)
	data := mustPack(abi.Arguments{
		{Type: mustType("bool")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
	}, isYes, big.NewInt(usdc), big.NewInt(shares), big.NewInt(price))

	return types.Log{
		Address:     Contract,
		Topics:      []common.Hash{topic, common.BigToHash(big.NewInt(marketID)), common.BytesToHash(buyer.Bytes())},
		Data:        data,
		BlockNumber: pos.Block,
		TxHash:      pos.Tx,
		Index:       pos.Index,
	}
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustPack(args abi.Arguments, values ...any) []byte {
	data, err := args.Pack(values...)
	if err != nil {
		panic(err)
	}
	return data
}
