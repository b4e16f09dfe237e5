package config

import (
	"flag"
	"fmt"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"io/ioutil"
	"os"
	"time"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

func (c *DBCredential) Enabled() bool {
	return c.Address != ""
}

// Configuration struct
type Configuration struct {
	LogLevel      int           `yaml:"log_level"`
	Network       Network       `yaml:"network"`
	Wallet        Wallet        `yaml:"wallet"`
	WalletConnect WalletConnect `yaml:"walletconnect"`
	// InfuraID is the RPC relay project id, env INFURA_ID wins.
	InfuraID        string       `yaml:"infura_id"`
	RedisCredential DBCredential `yaml:"redis"`
	HTTP            HTTP         `yaml:"http"`
	KafkaServer     string       `yaml:"kafka-server"`
	KafkaTopic      string       `yaml:"kafka_topic"`
	Errors          Errors       `yaml:"errors"`
	Deploy          Deploy       `yaml:"deploy"`
}

type Network struct {
	Name    string `yaml:"name"`
	ChainID int64  `yaml:"chain_id"`
	RPCURL  string `yaml:"rpc_url"`
}

type Wallet struct {
	// CacheProvider remembers the last chosen wallet and reconnects to it without asking.
	CacheProvider   bool          `yaml:"cache_provider"`
	DefaultProvider string        `yaml:"default_provider"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ReceiptTimeout  time.Duration `yaml:"receipt_timeout"`
}

type WalletConnect struct {
	BridgeURL   string        `yaml:"bridge_url"`
	AppName     string        `yaml:"app_name"`
	Description string        `yaml:"description"`
	URL         string        `yaml:"url"`
	ChainID     int64         `yaml:"chain_id"`
	QRCodePath  string        `yaml:"qr_code_path"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type HTTP struct {
	Address           string        `yaml:"address"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	TransferPerMinute int           `yaml:"transfer_per_minute"`
}

type Errors struct {
	SentryDSN       string        `yaml:"sentry_dsn"`
	LarkWebhook     string        `yaml:"lark_webhook"`
	DingTalkWebhook string        `yaml:"dingtalk_webhook"`
	DingTalkSecret  string        `yaml:"dingtalk_secret"`
	ReportSilence   time.Duration `yaml:"report_silence"`
}

type Deploy struct {
	ArtifactPath  string `yaml:"artifact_path"`
	InitialSupply string `yaml:"initial_supply"`
	// PrivateKey is hex without 0x, env DEPLOYER_PRIVATE_KEY wins.
	PrivateKey string `yaml:"private_key"`
}

const (
	envInfuraID     = "INFURA_ID"
	envDeployerKey  = "DEPLOYER_PRIVATE_KEY"
	envRedisAddress = "REDIS_ADDRESS"
)

// Default matches a local hardhat node.
func Default() Configuration {
	return Configuration{
		LogLevel: 1,
		Network: Network{
			Name:    "localhost",
			ChainID: 31337,
			RPCURL:  "http://127.0.0.1:8545",
		},
		Wallet: Wallet{
			CacheProvider:  true,
			PollInterval:   time.Second,
			ReceiptTimeout: time.Minute * 2,
		},
		WalletConnect: WalletConnect{
			AppName:     "Defi template",
			Description: "moff defi wallet",
			ChainID:     31337,
			QRCodePath:  "wallet_connect_qr.png",
			ReadTimeout: time.Minute * 5,
		},
		HTTP: HTTP{
			Address:           ":8080",
			RequestTimeout:    time.Minute * 3,
			TransferPerMinute: 10,
		},
		KafkaTopic: "defi_wallet_events",
		Errors: Errors{
			ReportSilence: time.Minute,
		},
		Deploy: Deploy{
			ArtifactPath:  "artifacts/contracts/Token.sol/Token.json",
			InitialSupply: "1000",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", path)
		}
		return nil, err
	}
	t := Default()
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return nil, fmt.Errorf("fail to decode config error: %v", err)
	}
	t.applyEnv()
	return &t, nil
}

func (in *Configuration) applyEnv() {
	if v := os.Getenv(envInfuraID); v != "" {
		in.InfuraID = v
	}
	if v := os.Getenv(envDeployerKey); v != "" {
		in.Deploy.PrivateKey = v
	}
	if v := os.Getenv(envRedisAddress); v != "" {
		in.RedisCredential.Address = v
		if in.RedisCredential.Port == "" {
			in.RedisCredential.Port = "6379"
		}
	}
}

var Global *Configuration

// Read reads configuration information from yml. A missing file at the default path falls
// back to the defaults, an explicit -config-path must exist.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	ReadFrom(*configFilePath, isFlagSet("config-path"))
}

func ReadFrom(path string, required bool) {
	logrus.Infof("Loading configuration file from %s", path)
	globalConfig, err := Load(path)
	if err != nil {
		if required {
			logrus.Fatal(err)
		}
		logrus.Warnf("%v, using defaults", err)
		d := Default()
		d.applyEnv()
		globalConfig = &d
	}
	Global = globalConfig
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
