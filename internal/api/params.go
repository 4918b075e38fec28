package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultActivityLimit = 20
	maxLimit             = 500
)

var errBadRequest = errors.New("bad request")

// parseAddress validates a 0x-prefixed 20-byte hex address and returns it
// lowercased, the form addresses are stored in.
func parseAddress(raw string) (string, error) {
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return "", fmt.Errorf("%w: invalid address %q", errBadRequest, raw)
	}
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("%w: invalid address %q", errBadRequest, raw)
	}
	return strings.ToLower(common.HexToAddress(raw).Hex()), nil
}

// parseMarketID accepts a non-negative decimal uint256 and returns its
// canonical form.
func parseMarketID(raw string) (string, error) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		return "", fmt.Errorf("%w: invalid market id %q", errBadRequest, raw)
	}
	return id.String(), nil
}

// parseLimit reads the limit query parameter. def is returned when it is
// absent; a def of 0 means unbounded.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
