package workers

import (
	"context"
	"time"

	"gousddbridge/NEXRPC"
	"gousddbridge/SOLRPC"
	"gousddbridge/store"
	"gousddbridge/types"
)

// Storage is the slice of the Postgres store the engine uses. Narrowed
// to an interface so the advancement passes can run against an
// in-memory fake in tests.
type Storage interface {
	InsertDeposit(ctx context.Context, d *types.Deposit) (bool, error)
	GetDeposit(ctx context.Context, sig string) (*types.Deposit, error)
	DepositsByStatus(ctx context.Context, status types.DepositStatus, limit int) ([]types.Deposit, error)
	UpdateDeposit(ctx context.Context, d *types.Deposit) error
	CloseDeposit(ctx context.Context, d *types.Deposit, outcome types.Outcome, movedUnits int64, now int64) error
	DepositClosed(ctx context.Context, sig string) (bool, error)
	InsertDepositMarker(ctx context.Context, sig string, outcome types.Outcome, refundSig string, now int64) (bool, error)
	OldestOpenDepositTs(ctx context.Context) (int64, error)

	InsertCredit(ctx context.Context, c *types.Credit) (bool, error)
	GetCredit(ctx context.Context, txid string) (*types.Credit, error)
	CreditsByStatus(ctx context.Context, status types.CreditStatus, limit int) ([]types.Credit, error)
	UpdateCredit(ctx context.Context, c *types.Credit) error
	CloseCredit(ctx context.Context, c *types.Credit, outcome types.Outcome, movedUnits int64, now int64) error
	CreditClosed(ctx context.Context, txid string) (bool, error)
	InsertCreditMarker(ctx context.Context, txid string, outcome types.Outcome, sendSig string, now int64) (bool, error)
	OldestOpenCreditTs(ctx context.Context) (int64, error)

	StatusCounts(ctx context.Context) (map[string]int64, error)
	QuarantineView(ctx context.Context, limit int) ([]store.QuarantineRow, error)

	ShouldAttempt(ctx context.Context, key string, maxAttempts int, cooldownSec, now int64) (bool, error)
	RecordAttempt(ctx context.Context, key string, now int64) error
	ResetAttempts(ctx context.Context, key string) error
	AttemptCount(ctx context.Context, key string) (int, error)

	AcquireReservation(ctx context.Context, kind types.ItemKind, key string, ttlSec, now int64) (bool, error)
	ReleaseReservation(ctx context.Context, kind types.ItemKind, key string) error
	SweepReservations(ctx context.Context, now int64) (int64, error)

	ProposeWatermark(ctx context.Context, chain types.ChainKey, ts int64) error
	CommittedWatermark(ctx context.Context, chain types.ChainKey) (int64, error)
	CommitWatermarks(ctx context.Context) (map[types.ChainKey]int64, error)

	AddFeeEntry(ctx context.Context, e *types.FeeEntry) error
	FeeTotals(ctx context.Context) (*types.FeeSummary, error)
	NextReference(ctx context.Context) (uint64, error)
	SeedReference(ctx context.Context, v uint64) error
	LastReference(ctx context.Context) (uint64, error)
}

// CacheStore is the derived-state cache (Redis in production).
type CacheStore interface {
	SetFeeSummary(sum *types.FeeSummary) error
	GetFeeSummary() (*types.FeeSummary, error)
	SetBackingPaused(paused bool) error
	GetBackingPaused() (bool, error)
	RequestRescan(chain types.ChainKey) error
	ConsumeRescan(chain types.ChainKey) (bool, error)
}

type SolanaClient interface {
	GetSignaturesForAddress(account string, limit int, before string) ([]SOLRPC.SignatureInfo, error)
	GetDepositDetail(sig string) (*SOLRPC.DepositDetail, error)
	Confirmed(sig string, min int) (bool, error)
	IsTokenAccountForMint(account string) (bool, error)
	USDCAccountForWallet(owner string) (string, error)
	GetTokenAccountBalance(account string) (int64, error)
	SendUSDC(dest string, amountUnits int64, memo string) (string, error)
	FindSignatureWithMemo(memo string, sinceTs int64) (string, error)
	ScanMemosSince(ts int64) (*SOLRPC.MemoScan, error)
}

type NexusClient interface {
	GetAccountInfo(address string) (*NEXRPC.AccountInfo, error)
	ValidUSDDAccount(address string) (bool, error)
	DebitUSDD(to string, units int64, reference uint64) (string, error)
	TreasuryCredits(sinceTs int64, pageSize int) ([]NEXRPC.CreditInfo, error)
	Confirmed(txid string, min int) (bool, error)
	ReceivalAddress(txid, ownerID string) (string, error)
	Circulating() (int64, error)
	Heartbeat() (*NEXRPC.HeartbeatData, error)
	UpdateHeartbeat(hb *NEXRPC.HeartbeatData) error
	MaxChainReference() (uint64, error)
}

// Engine ties the store, the cache and both chain clients together.
// All passes are methods on it; the worker loops just call them on a
// timer.
type Engine struct {
	store Storage
	cache CacheStore
	sol   SolanaClient
	nex   NexusClient

	// injectable clock
	now func() int64
}

func New(st Storage, cache CacheStore, sol SolanaClient, nex NexusClient) *Engine {
	return &Engine{
		store: st,
		cache: cache,
		sol:   sol,
		nex:   nex,
		now:   func() int64 { return time.Now().Unix() },
	}
}
