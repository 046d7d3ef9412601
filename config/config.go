package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"lendmigrate/crypto"
	nativecommon "lendmigrate/native/common"
	"lendmigrate/native/lending"
	"lendmigrate/native/migration"

	"github.com/BurntSushi/toml"
)

const (
	defaultDataDir      = "./lendmigrate-data"
	defaultKeystoreName = "operator.keystore"
	defaultGasLimit     = 3_000_000
)

type Config struct {
	DataDir              string  `toml:"DataDir"`
	OperatorKeystorePath string  `toml:"OperatorKeystorePath"`
	Engine               Engine  `toml:"engine"`
	Pool                 Pool    `toml:"pool"`
	Network              Network `toml:"network"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration whose owner is a freshly generated
// operator key.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.Engine.MaxFeeBps == 0 {
		c.Engine.MaxFeeBps = migration.MaxFeeBps
	}
	if c.Engine.MaxPositions == 0 {
		c.Engine.MaxPositions = migration.DefaultMaxPositions
	}
	if c.Pool.PremiumBps == 0 {
		c.Pool.PremiumBps = lending.DefaultFlashLoanPremiumBps
	}
	if c.Pool.LTVBps == 0 {
		c.Pool.LTVBps = migration.DefaultSandboxConfig().LTVBps
	}
	if c.Network.GasLimit == 0 {
		c.Network.GasLimit = defaultGasLimit
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Engine.Owner) == "" {
			cfg.Engine.Owner = key.Address().Hex()
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	sandbox := migration.DefaultSandboxConfig()
	cfg := &Config{
		DataDir:              defaultDataDir,
		OperatorKeystorePath: keystorePath,
		Engine: Engine{
			Address:      sandbox.Engine.Hex(),
			Owner:        key.Address().Hex(),
			MaxFeeBps:    migration.MaxFeeBps,
			MaxPositions: migration.DefaultMaxPositions,
		},
		Pool: Pool{
			Address:    sandbox.Pool.Hex(),
			PremiumBps: lending.DefaultFlashLoanPremiumBps,
			LTVBps:     sandbox.LTVBps,
		},
		Network: Network{GasLimit: defaultGasLimit},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, defaultKeystoreName)
}

// EngineAddress parses the migrator address.
func (c *Config) EngineAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Engine.Address)
}

// OwnerAddress parses the fee recipient and administrator.
func (c *Config) OwnerAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Engine.Owner)
}

// PoolAddress parses the lending pool address.
func (c *Config) PoolAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Pool.Address)
}

// DataProviderAddress parses the protocol data provider used for snapshots.
func (c *Config) DataProviderAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Network.DataProvider)
}

// SandboxConfig converts the file into a simulated deployment description.
func (c *Config) SandboxConfig() (migration.SandboxConfig, error) {
	engine, err := c.EngineAddress()
	if err != nil {
		return migration.SandboxConfig{}, fmt.Errorf("engine.Address: %w", err)
	}
	owner, err := c.OwnerAddress()
	if err != nil {
		return migration.SandboxConfig{}, fmt.Errorf("engine.Owner: %w", err)
	}
	pool, err := c.PoolAddress()
	if err != nil {
		return migration.SandboxConfig{}, fmt.Errorf("pool.Address: %w", err)
	}
	var paused []string
	if c.Engine.Paused {
		paused = append(paused, migration.ModuleName)
	}
	if c.Pool.Paused {
		paused = append(paused, lending.ModuleName)
	}
	return migration.SandboxConfig{
		Pauses:       nativecommon.NewPauseSet(paused...),
		Engine:       engine,
		Pool:         pool,
		Owner:        owner,
		FeeBps:       c.Engine.FeeBps,
		MaxFeeBps:    c.Engine.MaxFeeBps,
		PremiumBps:   c.Pool.PremiumBps,
		LTVBps:       c.Pool.LTVBps,
		Referral:     c.Engine.Referral,
		MaxPositions: c.Engine.MaxPositions,
	}, nil
}
