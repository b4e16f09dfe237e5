package chains

import (
	"fmt"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"math"
	"moff.io/moff-defi/pkg/errors"
	"strings"
)

type Blockchain struct {
	ID    int64
	IDHex string
	Name  string
	// Infura network slug, empty when the relay does not serve the chain
	InfuraNetwork string
}

const HardhatChainID int64 = 31337

var (
	Array = []*Blockchain{
		{ID: 1, IDHex: "0x1", Name: "eth", InfuraNetwork: "mainnet"},
		{ID: 3, IDHex: "0x3", Name: "ropsten", InfuraNetwork: "ropsten"},
		{ID: 4, IDHex: "0x4", Name: "rinkeby", InfuraNetwork: "rinkeby"},
		{ID: 5, IDHex: "0x5", Name: "goerli", InfuraNetwork: "goerli"},
		{ID: 42, IDHex: "0x2a", Name: "kovan", InfuraNetwork: "kovan"},
		{ID: 137, IDHex: "0x89", Name: "polygon", InfuraNetwork: "polygon-mainnet"},
		{ID: 80001, IDHex: "0x13881", Name: "mumbai", InfuraNetwork: "polygon-mumbai"},
		{ID: 56, IDHex: "0x38", Name: "bsc"},
		{ID: 97, IDHex: "0x61", Name: "bsc testnet"},
		{ID: 43114, IDHex: "0xa86a", Name: "avalanche"},
		{ID: 43113, IDHex: "0xa869", Name: "avalanche testnet"},
		{ID: 250, IDHex: "0xfa", Name: "fantom"},
		{ID: 25, IDHex: "0x19", Name: "cronos"},
		{ID: HardhatChainID, IDHex: "0x7a69", Name: "localhost"},
	}

	Mapping = func() map[int64]*Blockchain {
		m := make(map[int64]*Blockchain, len(Array))
		for _, c := range Array {
			m[c.ID] = c
		}
		return m
	}()
)

// Name returns the registered chain name, or "unknown".
func Name(id int64) string {
	if c, ok := Mapping[id]; ok {
		return c.Name
	}
	return "unknown"
}

// ParseHexID parses a "0x7a69" style chain id as sent in chainChanged and eth_chainId.
func ParseHexID(hexID string) (int64, error) {
	id, err := hexutil.DecodeUint64(strings.ToLower(strings.TrimSpace(hexID)))
	if err != nil {
		return 0, errors.Wrapf(err, "chain id %q", hexID)
	}
	if id > math.MaxInt64 {
		return 0, errors.Errorf("chain id %q out of range", hexID)
	}
	return int64(id), nil
}

func FormatHexID(id int64) string {
	return hexutil.EncodeUint64(uint64(id))
}

// InfuraURL returns the relay endpoint for chainID, empty when the chain is not served or no
// project id is configured.
func InfuraURL(chainID int64, infuraID string) string {
	c, ok := Mapping[chainID]
	if !ok || c.InfuraNetwork == "" || infuraID == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.infura.io/v3/%s", c.InfuraNetwork, infuraID)
}
