package deploy

import (
	"context"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tokenArtifact stores its constructor argument in slot 0 and answers every call with it.
const tokenArtifact = `{
  "contractName": "Token",
  "sourceName": "contracts/Token.sol",
  "abi": [
    {"type": "constructor", "stateMutability": "nonpayable", "inputs": [{"name": "initialSupply", "type": "uint256"}]},
    {"type": "function", "name": "totalSupply", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]}
  ],
  "bytecode": "0x602060203803600039600051600055600b601b600039600b6000f360005460005260206000f3"
}`

// autoCommit mines every transaction as soon as it is sent.
type autoCommit struct {
	*backends.SimulatedBackend
}

func (b autoCommit) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.SimulatedBackend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.Commit()
	return nil
}

func TestTokenDeploy(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	deployer := crypto.PubkeyToAddress(key.PublicKey)
	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	sim := backends.NewSimulatedBackend(core.GenesisAlloc{deployer: {Balance: funds}}, 8_000_000)
	defer sim.Close()

	path := filepath.Join(t.TempDir(), "Token.json")
	require.NoError(t, os.WriteFile(path, []byte(tokenArtifact), 0644))
	artifact, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "Token", artifact.ContractName)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	result, err := Token(ctx, autoCommit{sim}, key, big.NewInt(1337), artifact, "1000")
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(deployer, 0), result.Address)

	parsed, _, err := artifact.Parse()
	require.NoError(t, err)
	token := bind.NewBoundContract(result.Address, parsed, sim, sim, sim)
	var out []interface{}
	require.NoError(t, token.Call(&bind.CallOpts{Context: ctx}, &out, "totalSupply"))
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(out[0].(*big.Int)), "constructor got 1000 * 10^18")
}

func TestTokenBadSupply(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	artifact, err := ParseArtifact([]byte(tokenArtifact))
	require.NoError(t, err)
	_, err = Token(context.Background(), nil, key, big.NewInt(1337), artifact, "1000.0000000000000000001")
	assert.Error(t, err)
}

func TestParseArtifactErrors(t *testing.T) {
	_, err := ParseArtifact([]byte(`{"contractName":"IToken","abi":[],"bytecode":"0x"}`))
	assert.Error(t, err)
	_, err = ParseArtifact([]byte(`{"contractName":"Token","bytecode":"0x6000"}`))
	assert.Error(t, err)
	_, err = ParseArtifact([]byte(`not json`))
	assert.Error(t, err)
	_, err = LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hexutil.Encode(crypto.FromECDSA(key))
	parsed, err := ParsePrivateKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParsePrivateKey("")
	assert.Error(t, err)
	_, err = ParsePrivateKey("zz")
	assert.Error(t, err)
}
