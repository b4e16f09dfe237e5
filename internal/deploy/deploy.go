// Package deploy deploys compiled Hardhat contracts with go-ethereum's bind package.
package deploy

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"io/ioutil"
	"math/big"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"moff.io/moff-defi/pkg/units"
	"strings"
)

// Backend is what deploying and waiting for the deployment needs, ethclient.Client and the
// simulated backend both qualify.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Artifact is the part of a Hardhat build artifact needed to deploy.
type Artifact struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

func LoadArtifact(path string) (*Artifact, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", path)
	}
	return ParseArtifact(data)
}

func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, "decode artifact")
	}
	if len(a.ABI) == 0 {
		return nil, errors.Errorf("artifact %q has no abi", a.ContractName)
	}
	if a.Bytecode == "" || a.Bytecode == "0x" {
		return nil, errors.Errorf("artifact %q has no bytecode, is it abstract?", a.ContractName)
	}
	return &a, nil
}

// Parse returns the contract abi and the creation code.
func (a *Artifact) Parse() (abi.ABI, []byte, error) {
	parsed, err := abi.JSON(strings.NewReader(string(a.ABI)))
	if err != nil {
		return abi.ABI{}, nil, errors.Wrapf(err, "parse abi of %s", a.ContractName)
	}
	code, err := hexutil.Decode(a.Bytecode)
	if err != nil {
		return abi.ABI{}, nil, errors.Wrapf(err, "decode bytecode of %s", a.ContractName)
	}
	return parsed, code, nil
}

type Result struct {
	Address common.Address
	TxHash  common.Hash
}

// Deploy sends the creation transaction with args as constructor arguments and waits until
// the code is on chain.
func Deploy(ctx context.Context, backend Backend, auth *bind.TransactOpts, artifact *Artifact, args ...interface{}) (*Result, error) {
	parsed, code, err := artifact.Parse()
	if err != nil {
		return nil, err
	}
	address, tx, _, err := bind.DeployContract(auth, parsed, code, backend, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "deploy %s", artifact.ContractName)
	}
	log.Infof("deploy - %s creation transaction %s sent", artifact.ContractName, tx.Hash().Hex())
	deployed, err := bind.WaitDeployed(ctx, backend, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "wait for %s deployment", artifact.ContractName)
	}
	if deployed != address {
		log.Warnf("deploy - expected %s at %s, receipt says %s", artifact.ContractName, address.Hex(), deployed.Hex())
	}
	return &Result{Address: deployed, TxHash: tx.Hash()}, nil
}

// ParsePrivateKey accepts hex with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("no deployer private key, set DEPLOYER_PRIVATE_KEY")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse deployer private key")
	}
	return key, nil
}

// Token deploys the token with supply whole tokens minted, converted to 18 decimal base units.
func Token(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, artifact *Artifact, supply string) (*Result, error) {
	initialSupply, err := units.ParseUnits(supply, units.EtherDecimals)
	if err != nil {
		return nil, errors.Wrapf(err, "initial supply %q", supply)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "create transactor")
	}
	auth.Context = ctx
	return Deploy(ctx, backend, auth, artifact, initialSupply)
}
