package lending

// DefaultFlashLoanPremiumBps matches the 0.09% premium charged by Aave v2.
const DefaultFlashLoanPremiumBps = 9

// Config captures the runtime configuration for the reference lending pool.
type Config struct {
	FlashLoanPremiumBps uint64 `toml:"FlashLoanPremiumBps"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{FlashLoanPremiumBps: DefaultFlashLoanPremiumBps}
}
