package config

type Configuration struct {
	// Server config
	Server struct {
		UseSSL      bool   `yaml:"ssl"`
		HTTPPort    int    `yaml:"http_port"`
		RedisHost   string `yaml:"redis_host"`
		RedisPort   int    `yaml:"redis_port"`
		PostgresURL string `yaml:"postgres_url" envconfig:"POSTGRES_URL"`
	} `yaml:"server"`
	// Solana-related config
	Solana struct {
		// RPC endpoints, tried in order
		RPCList []string `yaml:"rpc_list"`
		// wallet-style signing agent holding the vault keypair
		VaultAgentURL     string `yaml:"vault_agent_url" envconfig:"VAULT_AGENT_URL"`
		VaultUSDCAccount  string `yaml:"vault_usdc_account"`
		USDCMint          string `yaml:"usdc_mint"`
		QuarantineAccount string `yaml:"quarantine_account"`
		Confirmations     int    `yaml:"confirmations"`
		Decimals          int    `yaml:"decimals"`
	} `yaml:"solana"`
	// Nexus-related config
	Nexus struct {
		HostList        []string `yaml:"host_list"`
		TreasuryAccount string   `yaml:"treasury_account"`
		TokenName       string   `yaml:"token_name"`
		HeartbeatAsset  string   `yaml:"heartbeat_asset"`
		Confirmations   int      `yaml:"confirmations"`
		Decimals        int      `yaml:"decimals"`
		// important private stuff
		PIN string `yaml:"pin" envconfig:"NEXUS_PIN"`
	} `yaml:"nexus"`
	Fees struct {
		FlatFeeUnits       int64 `yaml:"flat_fee_units"`
		DynamicFeeBps      int64 `yaml:"dynamic_fee_bps"`
		RefundFlatFeeUnits int64 `yaml:"refund_flat_fee_units"`
		MinDepositUnits    int64 `yaml:"min_deposit_units"`
	} `yaml:"fees"`
	Engine struct {
		SolanaPollSec      int   `yaml:"solana_poll_sec"`
		NexusPollSec       int   `yaml:"nexus_poll_sec"`
		MaintenanceSec     int   `yaml:"maintenance_sec"`
		MaxAttempts        int   `yaml:"max_attempts"`
		CooldownSec        int64 `yaml:"cooldown_sec"`
		PassBudgetSec      int   `yaml:"pass_budget_sec"`
		BatchLimit         int   `yaml:"batch_limit"`
		MappingTimeoutSec  int64 `yaml:"mapping_timeout_sec"`
		ConfirmTimeoutSec  int64 `yaml:"confirm_timeout_sec"`
		WaterlineMarginSec int64 `yaml:"waterline_margin_sec"`
		MaxLookbackSec     int64 `yaml:"max_lookback_sec"`
		BackingPausePct    int64 `yaml:"backing_pause_pct"`
		ReservationTTLSec  int64 `yaml:"reservation_ttl_sec"`
	} `yaml:"engine"`
}

var Config Configuration

// maximum number of RPC endpoint retries per call
const RPC_RETRIES = 3

// memo markers written on outgoing Solana transfers; startup recovery
// rebuilds processed/refunded/quarantined markers from these
const (
	MEMO_SENT_PREFIX       = "nexus_txid:"
	MEMO_REFUND_PREFIX     = "refund:"
	MEMO_QUARANTINE_PREFIX = "quarantine:"
)

// memo prefix senders use to name their Nexus receival account
const MEMO_DEPOSIT_PREFIX = "nexus:"

func applyDefaults(cfg *Configuration) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Solana.Decimals == 0 {
		cfg.Solana.Decimals = 6
	}
	if cfg.Nexus.Decimals == 0 {
		cfg.Nexus.Decimals = 6
	}
	if cfg.Solana.Confirmations == 0 {
		cfg.Solana.Confirmations = 3
	}
	if cfg.Nexus.Confirmations == 0 {
		cfg.Nexus.Confirmations = 1
	}
	if cfg.Engine.SolanaPollSec == 0 {
		cfg.Engine.SolanaPollSec = 10
	}
	if cfg.Engine.NexusPollSec == 0 {
		cfg.Engine.NexusPollSec = 10
	}
	if cfg.Engine.MaintenanceSec == 0 {
		cfg.Engine.MaintenanceSec = 30
	}
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = 3
	}
	if cfg.Engine.CooldownSec == 0 {
		cfg.Engine.CooldownSec = 300
	}
	if cfg.Engine.PassBudgetSec == 0 {
		cfg.Engine.PassBudgetSec = 8
	}
	if cfg.Engine.BatchLimit == 0 {
		cfg.Engine.BatchLimit = 100
	}
	if cfg.Engine.MappingTimeoutSec == 0 {
		cfg.Engine.MappingTimeoutSec = 24 * 3600
	}
	if cfg.Engine.ConfirmTimeoutSec == 0 {
		cfg.Engine.ConfirmTimeoutSec = 2 * 3600
	}
	if cfg.Engine.WaterlineMarginSec == 0 {
		cfg.Engine.WaterlineMarginSec = 600
	}
	if cfg.Engine.MaxLookbackSec == 0 {
		cfg.Engine.MaxLookbackSec = 7 * 24 * 3600
	}
	if cfg.Engine.BackingPausePct == 0 {
		cfg.Engine.BackingPausePct = 90
	}
	if cfg.Engine.ReservationTTLSec == 0 {
		cfg.Engine.ReservationTTLSec = 120
	}
	if cfg.Fees.MinDepositUnits == 0 {
		cfg.Fees.MinDepositUnits = 100101
	}
}
