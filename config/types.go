package config

// Engine holds the migrator deployment and fee policy.
type Engine struct {
	Address      string `toml:"Address"`
	Owner        string `toml:"Owner"`
	FeeBps       uint64 `toml:"FeeBps"`
	MaxFeeBps    uint64 `toml:"MaxFeeBps"`
	MaxPositions int    `toml:"MaxPositions"`
	Referral     uint16 `toml:"Referral"`
	Paused       bool   `toml:"Paused"`
	// FeeStore selects the fee record backend: leveldb, bolt or memory.
	FeeStore string `toml:"FeeStore"`
}

// Pool describes the lending pool the engine borrows from.
type Pool struct {
	Address    string `toml:"Address"`
	PremiumBps uint64 `toml:"PremiumBps"`
	LTVBps     uint64 `toml:"LTVBps"`
	Paused     bool   `toml:"Paused"`
}

// Network points the chain adapter at a JSON-RPC endpoint.
type Network struct {
	RPCURL       string `toml:"RPCURL"`
	ChainID      uint64 `toml:"ChainID"`
	DataProvider string `toml:"DataProvider"`
	GasLimit     uint64 `toml:"GasLimit"`
}
