// deploy sends the Token creation transaction to the configured network and prints where it
// landed.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/ethereum/go-ethereum/ethclient"
	"moff.io/moff-defi/internal/config"
	"moff.io/moff-defi/internal/deploy"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"os"
	"time"
)

var (
	configPath = flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	artifact   = flag.String("artifact", "", "Hardhat artifact of the contract, defaults to deploy.artifact_path")
	supply     = flag.String("supply", "", "Initial supply in whole tokens, defaults to deploy.initial_supply")
	rpcURL     = flag.String("rpc", "", "JSON-RPC endpoint, defaults to network.rpc_url")
	timeout    = flag.Duration("timeout", time.Minute*5, "How long to wait for the deployment")
)

func main() {
	flag.Parse()
	config.ReadFrom(*configPath, false)
	log.SetLevel(config.Global.LogLevel)
	if err := run(config.Global); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(c *config.Configuration) error {
	artifactPath := orDefault(*artifact, c.Deploy.ArtifactPath)
	initialSupply := orDefault(*supply, c.Deploy.InitialSupply)
	endpoint := orDefault(*rpcURL, c.Network.RPCURL)

	key, err := deploy.ParsePrivateKey(c.Deploy.PrivateKey)
	if err != nil {
		return err
	}
	a, err := deploy.LoadArtifact(artifactPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return errors.Wrapf(err, "dial %s", endpoint)
	}
	defer client.Close()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "query chain id")
	}
	log.Infof("deploying %s with initial supply %s to chain %v", a.ContractName, initialSupply, chainID)

	result, err := deploy.Token(ctx, client, key, chainID, a, initialSupply)
	if err != nil {
		return err
	}
	fmt.Println("Token deployed to:", result.Address.Hex())
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
