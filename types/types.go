package types

// ItemKind selects which direction's state machine and tables apply
// to an item. There is no string sniffing of identifiers anywhere:
// a Solana signature only ever lives in deposit tables, a Nexus txid
// only in credit tables.
type ItemKind int

const (
	KindSolanaDeposit ItemKind = iota // USDC into the vault, paid out as USDD
	KindNexusCredit                   // USDD into the treasury, paid out as USDC
)

func (k ItemKind) String() string {
	if k == KindSolanaDeposit {
		return "solana_deposit"
	}
	return "nexus_credit"
}

// ChainKey identifies a source ledger for waterline bookkeeping.
type ChainKey string

const (
	ChainSolana ChainKey = "solana"
	ChainNexus  ChainKey = "nexus"
)

// Deposit statuses, Solana -> Nexus direction.
type DepositStatus string

const (
	DepositDetected         DepositStatus = "detected"
	DepositReady            DepositStatus = "ready_for_processing"
	DepositDebitSent        DepositStatus = "debit_sent"
	DepositToBeRefunded     DepositStatus = "to_be_refunded"
	DepositRefundSent       DepositStatus = "refund_sent"
	DepositToBeQuarantined  DepositStatus = "to_be_quarantined"
	DepositQuarantineSent   DepositStatus = "quarantine_sent"
	DepositQuarantineFailed DepositStatus = "quarantine_failed"
)

// Credit statuses, Nexus -> Solana direction.
type CreditStatus string

const (
	CreditPendingMapping       CreditStatus = "pending_mapping"
	CreditReady                CreditStatus = "ready_for_processing"
	CreditSending              CreditStatus = "sending"
	CreditAwaitingConfirmation CreditStatus = "awaiting_confirmation"
	CreditRefundPending        CreditStatus = "refund_pending"
	CreditRefundSent           CreditStatus = "refund_sent"
	CreditNeedsReconciliation  CreditStatus = "needs_reconciliation"
)

// Terminal outcomes. Terminal rows are never deleted; they form the
// audit trail and back the idempotency checks on re-detection.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeFeeOnly     Outcome = "fee_only"
	OutcomeRefunded    Outcome = "refunded"
	OutcomeQuarantined Outcome = "quarantined"
)

// Deposit is one USDC deposit into the vault token account. Identity is
// the Solana transaction signature. Amounts are integer base units.
type Deposit struct {
	Sig         string
	TsFound     int64
	FromAccount string // sender token account, refund target
	AmountUnits int64
	Memo        string
	Status      DepositStatus
	DestAccount string // resolved Nexus USDD account
	DebitTxID   string // Nexus debit txid once submitted
	RefundSig   string // Solana refund/quarantine signature once submitted
	Message     string
}

// Credit is one USDD credit into the treasury account. Identity is the
// Nexus transaction id. The payout address is not carried in the
// transaction; it is resolved from the mapping registry.
type Credit struct {
	TxID        string
	TsFound     int64
	FromAccount string // depositor USDD account, refund target
	OwnerID     string // depositor owner identity, second mapping factor
	AmountUnits int64
	Status      CreditStatus
	DestAddress string // resolved Solana receival address
	SendSig     string // Solana transfer signature once submitted
	TsSubmitted int64
	RefundTxID  string
	Message     string
}

type FeeKind string

const (
	FeeFlat           FeeKind = "flat_fee"
	FeeDynamic        FeeKind = "dynamic_fee"
	FeeMicroDeposit   FeeKind = "micro_deposit_fee"
	FeeRefundFlat     FeeKind = "refund_flat_fee"
	FeeRefundMicro    FeeKind = "refund_micro_fee"
	FeeQuarantineFlat FeeKind = "quarantine_flat_fee"
)

// FeeEntry is an append-only fee ledger row.
type FeeEntry struct {
	ID              string
	Ref             string // source item identity (deposit sig or credit txid)
	Kind            FeeKind
	AmountUSDCUnits int64
	AmountUSDDUnits int64
	Ts              int64
}

// FeeSummary is derived from the fee ledger and safe to rebuild at any
// time. It is cached, never the source of truth.
type FeeSummary struct {
	TotalUSDCUnits int64             `json:"total_usdc_units"`
	TotalUSDDUnits int64             `json:"total_usdd_units"`
	ByKind         map[FeeKind]int64 `json:"by_kind"`
	Entries        int64             `json:"entries"`
	RebuiltAt      int64             `json:"rebuilt_at"`
}

// AttemptRecord is the stored state of the attempt governor for one
// action key.
type AttemptRecord struct {
	Key    string
	Count  int
	LastTs int64
}

// MayProceed enforces the attempt bound and the cooldown window
// together; neither is ever checked on its own.
func (a AttemptRecord) MayProceed(now int64, maxAttempts int, cooldownSec int64) bool {
	if a.Count >= maxAttempts {
		return false
	}
	if a.Count > 0 && now-a.LastTs < cooldownSec {
		return false
	}
	return true
}

// WatermarkProposal is a per-chain proposed safe-scan-back timestamp,
// committed (with a monotonic clamp) by the maintenance pass.
type WatermarkProposal struct {
	Chain      ChainKey
	ProposedTs int64
}

// PassResult is what every detection/advancement/maintenance pass
// returns for logging. Expected per-item failures land in Errored,
// they never abort the pass.
type PassResult struct {
	Scanned     int
	Processed   int
	FeeOnly     int
	Refunded    int
	Quarantined int
	Errored     int
	Deferred    int
}

// BackingSnapshot is used only inside a single reconciliation pass.
type BackingSnapshot struct {
	VaultUnits       int64
	CirculatingUnits int64
}
