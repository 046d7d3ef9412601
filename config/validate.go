package config

import (
	"fmt"

	"lendmigrate/native/migration"
	"lendmigrate/storage"
)

// MaxPositionsLimit bounds how many entries a single migration may carry.
const MaxPositionsLimit = 256

// Validate bounds-checks the decoded configuration.
func (c *Config) Validate() error {
	if _, err := c.EngineAddress(); err != nil {
		return fmt.Errorf("engine: address: %w", err)
	}
	if _, err := c.OwnerAddress(); err != nil {
		return fmt.Errorf("engine: owner: %w", err)
	}
	if _, err := c.PoolAddress(); err != nil {
		return fmt.Errorf("pool: address: %w", err)
	}
	if c.Engine.MaxFeeBps > migration.MaxFeeBps {
		return fmt.Errorf("engine: max_fee_bps %d exceeds %d", c.Engine.MaxFeeBps, migration.MaxFeeBps)
	}
	if c.Engine.FeeBps > c.Engine.MaxFeeBps {
		return fmt.Errorf("engine: fee_bps %d exceeds max_fee_bps %d", c.Engine.FeeBps, c.Engine.MaxFeeBps)
	}
	if c.Engine.MaxPositions <= 0 || c.Engine.MaxPositions > MaxPositionsLimit {
		return fmt.Errorf("engine: max_positions must be within 1..%d", MaxPositionsLimit)
	}
	switch c.Engine.FeeStore {
	case "", storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("engine: fee_store %q must be leveldb, bolt or memory", c.Engine.FeeStore)
	}
	if c.Pool.PremiumBps > migration.MaxFeeBps {
		return fmt.Errorf("pool: premium_bps %d exceeds %d", c.Pool.PremiumBps, migration.MaxFeeBps)
	}
	if c.Pool.LTVBps == 0 || c.Pool.LTVBps > migration.MaxFeeBps {
		return fmt.Errorf("pool: ltv_bps must be within 1..%d", migration.MaxFeeBps)
	}
	if c.Network.RPCURL != "" && c.Network.ChainID == 0 {
		return fmt.Errorf("network: chain_id required when rpc_url is set")
	}
	if c.Network.DataProvider != "" {
		if _, err := c.DataProviderAddress(); err != nil {
			return fmt.Errorf("network: data_provider: %w", err)
		}
	}
	return nil
}
