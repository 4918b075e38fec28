// Package decoder maps raw contract logs to domain events.
//
// The registry is keyed by topic0. Each entry is derived from the embedded
// contract ABI, so signature hashes are always keccak256 of the canonical
// event signature and never hand-written.
package decoder

import (
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketindexer/internal/core/domain"
)

//go:embed market.abi.json
var marketABIJSON string

// ErrMalformed is returned for a log on a known topic whose topics or data do
// not match the event ABI.
var ErrMalformed = errors.New("malformed log")

const (
	EventMarketCreated   = "MarketCreated"
	EventSharesPurchased = "SharesPurchased"
)

type decodeFunc func(values map[string]any, log *types.Log) (domain.Event, error)

type entry struct {
	event   abi.Event
	indexed abi.Arguments
	decode  decodeFunc
}

// Registry decodes logs of the prediction-market contract.
type Registry struct {
	abi     abi.ABI
	byTopic map[common.Hash]*entry
	order   []common.Hash
}

// New parses the embedded ABI and builds the topic registry.
func New() (*Registry, error) {
	parsed, err := abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	r := &Registry{abi: parsed, byTopic: make(map[common.Hash]*entry)}
	for _, reg := range []struct {
		name string
		fn   decodeFunc
	}{
		{EventMarketCreated, decodeMarketCreated},
		{EventSharesPurchased, decodeSharesPurchased},
	} {
		ev, ok := parsed.Events[reg.name]
		if !ok {
			return nil, fmt.Errorf("event %s missing from abi", reg.name)
		}
		var indexed abi.Arguments
		for _, in := range ev.Inputs {
			if in.Indexed {
				indexed = append(indexed, in)
			}
		}
		r.byTopic[ev.ID] = &entry{event: ev, indexed: indexed, decode: reg.fn}
		r.order = append(r.order, ev.ID)
	}
	return r, nil
}

// MustNew is New for package-level wiring; the ABI is compiled in.
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Topics returns the topic0 of every registered event.
func (r *Registry) Topics() []common.Hash {
	out := make([]common.Hash, len(r.order))
	copy(out, r.order)
	return out
}

// Topic returns the topic0 of a registered event by name.
func (r *Registry) Topic(name string) (common.Hash, bool) {
	ev, ok := r.abi.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return ev.ID, true
}

// EventName returns the event name registered for topic0, if any.
func (r *Registry) EventName(topic common.Hash) (string, bool) {
	e, ok := r.byTopic[topic]
	if !ok {
		return "", false
	}
	return e.event.Name, true
}

// Decode maps log to a domain event. ok is false, with a nil error, when the
// log's topic0 is not registered. A known topic that fails to decode returns
// an error wrapping ErrMalformed.
func (r *Registry) Decode(log *types.Log) (event domain.Event, ok bool, err error) {
	if len(log.Topics) == 0 {
		return domain.Event{}, false, nil
	}
	e, known := r.byTopic[log.Topics[0]]
	if !known {
		return domain.Event{}, false, nil
	}

	values := make(map[string]any, len(e.event.Inputs))
	if err := r.abi.UnpackIntoMap(values, e.event.Name, log.Data); err != nil {
		return domain.Event{}, true, fmt.Errorf("%w: %s data: %v", ErrMalformed, e.event.Name, err)
	}
	if err := abi.ParseTopicsIntoMap(values, e.indexed, log.Topics[1:]); err != nil {
		return domain.Event{}, true, fmt.Errorf("%w: %s topics: %v", ErrMalformed, e.event.Name, err)
	}

	event, err = e.decode(values, log)
	if err != nil {
		return domain.Event{}, true, fmt.Errorf("%w: %s: %v", ErrMalformed, e.event.Name, err)
	}
	return event, true, nil
}

func decodeMarketCreated(v map[string]any, log *types.Log) (domain.Event, error) {
	marketID, err := field[*big.Int](v, "marketId")
	if err != nil {
		return domain.Event{}, err
	}
	tweetID, err := field[string](v, "tweetId")
	if err != nil {
		return domain.Event{}, err
	}
	metric, err := field[uint8](v, "metric")
	if err != nil {
		return domain.Event{}, err
	}
	if !domain.Metric(metric).Valid() {
		return domain.Event{}, fmt.Errorf("metric %d out of range", metric)
	}
	target, err := field[*big.Int](v, "targetValue")
	if err != nil {
		return domain.Event{}, err
	}
	category, err := field[string](v, "category")
	if err != nil {
		return domain.Event{}, err
	}
	creator, err := field[common.Address](v, "creator")
	if err != nil {
		return domain.Event{}, err
	}

	return domain.Event{
		Kind: domain.EventKindMarketCreated,
		Market: &domain.MarketCreated{
			MarketID:    marketID.String(),
			TweetID:     tweetID,
			Metric:      domain.Metric(metric),
			TargetValue: target.String(),
			Category:    category,
			Creator:     NormalizeAddress(creator),
			TxHash:      log.TxHash.Hex(),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		},
	}, nil
}

func decodeSharesPurchased(v map[string]any, log *types.Log) (domain.Event, error) {
	marketID, err := field[*big.Int](v, "marketId")
	if err != nil {
		return domain.Event{}, err
	}
	buyer, err := field[common.Address](v, "buyer")
	if err != nil {
		return domain.Event{}, err
	}
	isYes, err := field[bool](v, "isYes")
	if err != nil {
		return domain.Event{}, err
	}
	amount, err := field[*big.Int](v, "usdcAmount")
	if err != nil {
		return domain.Event{}, err
	}
	shares, err := field[*big.Int](v, "sharesReceived")
	if err != nil {
		return domain.Event{}, err
	}
	price, err := field[*big.Int](v, "newPrice")
	if err != nil {
		return domain.Event{}, err
	}

	return domain.Event{
		Kind: domain.EventKindTrade,
		Trade: &domain.Trade{
			MarketID:       marketID.String(),
			Buyer:          NormalizeAddress(buyer),
			IsYes:          isYes,
			USDCAmount:     amount.String(),
			SharesReceived: shares.String(),
			NewPrice:       price.String(),
			TxHash:         log.TxHash.Hex(),
			BlockNumber:    log.BlockNumber,
			LogIndex:       log.Index,
		},
	}, nil
}

func field[T any](values map[string]any, name string) (T, error) {
	var zero T
	raw, ok := values[name]
	if !ok {
		return zero, fmt.Errorf("missing field %s", name)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("field %s: unexpected type %T", name, raw)
	}
	if b, isBig := any(v).(*big.Int); isBig && b == nil {
		return zero, fmt.Errorf("field %s: nil value", name)
	}
	return v, nil
}

// NormalizeAddress renders an address the way it is stored and queried:
// lowercase 0x-prefixed hex.
func NormalizeAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}
