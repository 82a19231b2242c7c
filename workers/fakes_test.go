package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gousddbridge/NEXRPC"
	"gousddbridge/SOLRPC"
	"gousddbridge/store"
	"gousddbridge/types"
)

type terminalRow struct {
	outcome    types.Outcome
	movedUnits int64
}

// fakeStore is an in-memory Storage for engine tests.
type fakeStore struct {
	deposits    map[string]*types.Deposit
	depTerminal map[string]terminalRow
	credits     map[string]*types.Credit
	crTerminal  map[string]terminalRow

	attempts     map[string]types.AttemptRecord
	reservations map[string]int64
	proposals    map[types.ChainKey]int64
	watermarks   map[types.ChainKey]int64
	feeEntries   []types.FeeEntry
	reference    uint64

	closeDepositErrs int
	closeCreditErrs  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deposits:     make(map[string]*types.Deposit),
		depTerminal:  make(map[string]terminalRow),
		credits:      make(map[string]*types.Credit),
		crTerminal:   make(map[string]terminalRow),
		attempts:     make(map[string]types.AttemptRecord),
		reservations: make(map[string]int64),
		proposals:    make(map[types.ChainKey]int64),
		watermarks:   make(map[types.ChainKey]int64),
	}
}

func (f *fakeStore) InsertDeposit(ctx context.Context, d *types.Deposit) (bool, error) {
	if _, ok := f.depTerminal[d.Sig]; ok {
		return false, nil
	}
	if _, ok := f.deposits[d.Sig]; ok {
		return false, nil
	}
	cp := *d
	f.deposits[d.Sig] = &cp
	return true, nil
}

func (f *fakeStore) GetDeposit(ctx context.Context, sig string) (*types.Deposit, error) {
	d, ok := f.deposits[sig]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) DepositsByStatus(ctx context.Context, status types.DepositStatus, limit int) ([]types.Deposit, error) {
	var out []types.Deposit
	for _, d := range f.deposits {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsFound < out[j].TsFound })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateDeposit(ctx context.Context, d *types.Deposit) error {
	if _, ok := f.deposits[d.Sig]; !ok {
		return errors.New("deposit not open")
	}
	cp := *d
	f.deposits[d.Sig] = &cp
	return nil
}

func (f *fakeStore) CloseDeposit(ctx context.Context, d *types.Deposit, outcome types.Outcome, movedUnits int64, now int64) error {
	if f.closeDepositErrs > 0 {
		f.closeDepositErrs--
		return errors.New("close failed")
	}
	if _, ok := f.depTerminal[d.Sig]; !ok {
		f.depTerminal[d.Sig] = terminalRow{outcome: outcome, movedUnits: movedUnits}
	}
	delete(f.deposits, d.Sig)
	return nil
}

func (f *fakeStore) DepositClosed(ctx context.Context, sig string) (bool, error) {
	_, ok := f.depTerminal[sig]
	return ok, nil
}

func (f *fakeStore) InsertDepositMarker(ctx context.Context, sig string, outcome types.Outcome, refundSig string, now int64) (bool, error) {
	if _, ok := f.depTerminal[sig]; ok {
		return false, nil
	}
	f.depTerminal[sig] = terminalRow{outcome: outcome}
	return true, nil
}

func (f *fakeStore) OldestOpenDepositTs(ctx context.Context) (int64, error) {
	var oldest int64
	for _, d := range f.deposits {
		if oldest == 0 || d.TsFound < oldest {
			oldest = d.TsFound
		}
	}
	return oldest, nil
}

func (f *fakeStore) InsertCredit(ctx context.Context, c *types.Credit) (bool, error) {
	if _, ok := f.crTerminal[c.TxID]; ok {
		return false, nil
	}
	if _, ok := f.credits[c.TxID]; ok {
		return false, nil
	}
	cp := *c
	f.credits[c.TxID] = &cp
	return true, nil
}

func (f *fakeStore) GetCredit(ctx context.Context, txid string) (*types.Credit, error) {
	c, ok := f.credits[txid]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) CreditsByStatus(ctx context.Context, status types.CreditStatus, limit int) ([]types.Credit, error) {
	var out []types.Credit
	for _, c := range f.credits {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsFound < out[j].TsFound })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateCredit(ctx context.Context, c *types.Credit) error {
	if _, ok := f.credits[c.TxID]; !ok {
		return errors.New("credit not open")
	}
	cp := *c
	f.credits[c.TxID] = &cp
	return nil
}

func (f *fakeStore) CloseCredit(ctx context.Context, c *types.Credit, outcome types.Outcome, movedUnits int64, now int64) error {
	if f.closeCreditErrs > 0 {
		f.closeCreditErrs--
		return errors.New("close failed")
	}
	if _, ok := f.crTerminal[c.TxID]; !ok {
		f.crTerminal[c.TxID] = terminalRow{outcome: outcome, movedUnits: movedUnits}
	}
	delete(f.credits, c.TxID)
	return nil
}

func (f *fakeStore) CreditClosed(ctx context.Context, txid string) (bool, error) {
	_, ok := f.crTerminal[txid]
	return ok, nil
}

func (f *fakeStore) InsertCreditMarker(ctx context.Context, txid string, outcome types.Outcome, sendSig string, now int64) (bool, error) {
	if _, ok := f.crTerminal[txid]; ok {
		return false, nil
	}
	f.crTerminal[txid] = terminalRow{outcome: outcome}
	return true, nil
}

func (f *fakeStore) OldestOpenCreditTs(ctx context.Context) (int64, error) {
	var oldest int64
	for _, c := range f.credits {
		if oldest == 0 || c.TsFound < oldest {
			oldest = c.TsFound
		}
	}
	return oldest, nil
}

func (f *fakeStore) StatusCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, d := range f.deposits {
		counts["deposit:"+string(d.Status)]++
	}
	for _, t := range f.depTerminal {
		counts["deposit:"+string(t.outcome)]++
	}
	for _, c := range f.credits {
		counts["credit:"+string(c.Status)]++
	}
	for _, t := range f.crTerminal {
		counts["credit:"+string(t.outcome)]++
	}
	return counts, nil
}

func (f *fakeStore) QuarantineView(ctx context.Context, limit int) ([]store.QuarantineRow, error) {
	return nil, nil
}

func (f *fakeStore) ShouldAttempt(ctx context.Context, key string, maxAttempts int, cooldownSec, now int64) (bool, error) {
	rec, ok := f.attempts[key]
	if !ok {
		return true, nil
	}
	return rec.MayProceed(now, maxAttempts, cooldownSec), nil
}

func (f *fakeStore) RecordAttempt(ctx context.Context, key string, now int64) error {
	rec := f.attempts[key]
	rec.Key = key
	rec.Count++
	rec.LastTs = now
	f.attempts[key] = rec
	return nil
}

func (f *fakeStore) ResetAttempts(ctx context.Context, key string) error {
	delete(f.attempts, key)
	return nil
}

func (f *fakeStore) AttemptCount(ctx context.Context, key string) (int, error) {
	return f.attempts[key].Count, nil
}

func (f *fakeStore) AcquireReservation(ctx context.Context, kind types.ItemKind, key string, ttlSec, now int64) (bool, error) {
	k := kind.String() + ":" + key
	if expires, ok := f.reservations[k]; ok && expires > now {
		return false, nil
	}
	f.reservations[k] = now + ttlSec
	return true, nil
}

func (f *fakeStore) ReleaseReservation(ctx context.Context, kind types.ItemKind, key string) error {
	delete(f.reservations, kind.String()+":"+key)
	return nil
}

func (f *fakeStore) SweepReservations(ctx context.Context, now int64) (int64, error) {
	var n int64
	for k, expires := range f.reservations {
		if expires <= now {
			delete(f.reservations, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ProposeWatermark(ctx context.Context, chain types.ChainKey, ts int64) error {
	f.proposals[chain] = ts
	return nil
}

func (f *fakeStore) CommittedWatermark(ctx context.Context, chain types.ChainKey) (int64, error) {
	return f.watermarks[chain], nil
}

func (f *fakeStore) CommitWatermarks(ctx context.Context) (map[types.ChainKey]int64, error) {
	committed := make(map[types.ChainKey]int64)
	for chain, proposed := range f.proposals {
		next := store.Advance(f.watermarks[chain], proposed)
		f.watermarks[chain] = next
		committed[chain] = next
	}
	f.proposals = make(map[types.ChainKey]int64)
	return committed, nil
}

func (f *fakeStore) AddFeeEntry(ctx context.Context, e *types.FeeEntry) error {
	for _, existing := range f.feeEntries {
		if existing.Ref == e.Ref && existing.Kind == e.Kind {
			return nil
		}
	}
	f.feeEntries = append(f.feeEntries, *e)
	return nil
}

func (f *fakeStore) FeeTotals(ctx context.Context) (*types.FeeSummary, error) {
	sum := &types.FeeSummary{ByKind: make(map[types.FeeKind]int64)}
	for _, e := range f.feeEntries {
		sum.TotalUSDCUnits += e.AmountUSDCUnits
		sum.TotalUSDDUnits += e.AmountUSDDUnits
		sum.ByKind[e.Kind] += e.AmountUSDCUnits + e.AmountUSDDUnits
		sum.Entries++
	}
	return sum, nil
}

func (f *fakeStore) NextReference(ctx context.Context) (uint64, error) {
	f.reference++
	return f.reference, nil
}

func (f *fakeStore) SeedReference(ctx context.Context, v uint64) error {
	if v > f.reference {
		f.reference = v
	}
	return nil
}

func (f *fakeStore) LastReference(ctx context.Context) (uint64, error) {
	return f.reference, nil
}

type fakeCache struct {
	feeSummary *types.FeeSummary
	paused     bool
	pausedErr  error
	rescans    map[types.ChainKey]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{rescans: make(map[types.ChainKey]bool)}
}

func (f *fakeCache) SetFeeSummary(sum *types.FeeSummary) error { f.feeSummary = sum; return nil }
func (f *fakeCache) GetFeeSummary() (*types.FeeSummary, error) { return f.feeSummary, nil }
func (f *fakeCache) SetBackingPaused(paused bool) error        { f.paused = paused; return nil }
func (f *fakeCache) GetBackingPaused() (bool, error)           { return f.paused, f.pausedErr }
func (f *fakeCache) RequestRescan(chain types.ChainKey) error  { f.rescans[chain] = true; return nil }
func (f *fakeCache) ConsumeRescan(chain types.ChainKey) (bool, error) {
	v := f.rescans[chain]
	delete(f.rescans, chain)
	return v, nil
}

type sentTransfer struct {
	dest   string
	amount int64
	memo   string
}

type fakeSolana struct {
	sigs        []SOLRPC.SignatureInfo
	details     map[string]*SOLRPC.DepositDetail
	unconfirmed map[string]bool
	tokenAccts  map[string]bool
	walletAccts map[string]string
	balance     int64
	memoIndex   map[string]string
	memoScan    *SOLRPC.MemoScan

	sends     []sentTransfer
	sendCalls int
	sendErr   error
	nextSig   int
}

func newFakeSolana() *fakeSolana {
	return &fakeSolana{
		details:     make(map[string]*SOLRPC.DepositDetail),
		unconfirmed: make(map[string]bool),
		tokenAccts:  make(map[string]bool),
		walletAccts: make(map[string]string),
		memoIndex:   make(map[string]string),
		memoScan: &SOLRPC.MemoScan{
			NexusTxids:     make(map[string]string),
			RefundSigs:     make(map[string]string),
			QuarantineSigs: make(map[string]string),
		},
	}
}

func (f *fakeSolana) GetSignaturesForAddress(account string, limit int, before string) ([]SOLRPC.SignatureInfo, error) {
	if before != "" {
		return nil, nil
	}
	return f.sigs, nil
}

func (f *fakeSolana) GetDepositDetail(sig string) (*SOLRPC.DepositDetail, error) {
	return f.details[sig], nil
}

func (f *fakeSolana) Confirmed(sig string, min int) (bool, error) {
	return !f.unconfirmed[sig], nil
}

func (f *fakeSolana) IsTokenAccountForMint(account string) (bool, error) {
	return f.tokenAccts[account], nil
}

func (f *fakeSolana) USDCAccountForWallet(owner string) (string, error) {
	return f.walletAccts[owner], nil
}

func (f *fakeSolana) GetTokenAccountBalance(account string) (int64, error) {
	return f.balance, nil
}

func (f *fakeSolana) SendUSDC(dest string, amountUnits int64, memo string) (string, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, sentTransfer{dest: dest, amount: amountUnits, memo: memo})
	f.nextSig++
	sig := fmt.Sprintf("sig-%d", f.nextSig)
	f.memoIndex[memo] = sig
	return sig, nil
}

func (f *fakeSolana) FindSignatureWithMemo(memo string, sinceTs int64) (string, error) {
	return f.memoIndex[memo], nil
}

func (f *fakeSolana) ScanMemosSince(ts int64) (*SOLRPC.MemoScan, error) {
	return f.memoScan, nil
}

type debit struct {
	to        string
	units     int64
	reference uint64
}

type fakeNexus struct {
	validAccts  map[string]bool
	credits     []NEXRPC.CreditInfo
	receival    map[string]string
	unconfirmed map[string]bool
	circulating int64
	heartbeat   *NEXRPC.HeartbeatData
	maxRef      uint64

	debits     []debit
	debitCalls int
	debitErr   error
	nextTxid   int
}

func newFakeNexus() *fakeNexus {
	return &fakeNexus{
		validAccts:  make(map[string]bool),
		receival:    make(map[string]string),
		unconfirmed: make(map[string]bool),
		heartbeat:   &NEXRPC.HeartbeatData{},
	}
}

func (f *fakeNexus) GetAccountInfo(address string) (*NEXRPC.AccountInfo, error) {
	if !f.validAccts[address] {
		return nil, errors.New("no such account")
	}
	return &NEXRPC.AccountInfo{Address: address, Ticker: "USDD"}, nil
}

func (f *fakeNexus) ValidUSDDAccount(address string) (bool, error) {
	return f.validAccts[address], nil
}

func (f *fakeNexus) DebitUSDD(to string, units int64, reference uint64) (string, error) {
	f.debitCalls++
	if f.debitErr != nil {
		return "", f.debitErr
	}
	f.debits = append(f.debits, debit{to: to, units: units, reference: reference})
	f.nextTxid++
	return fmt.Sprintf("txid-%d", f.nextTxid), nil
}

func (f *fakeNexus) TreasuryCredits(sinceTs int64, pageSize int) ([]NEXRPC.CreditInfo, error) {
	var out []NEXRPC.CreditInfo
	for _, ci := range f.credits {
		if ci.Ts == 0 || ci.Ts >= sinceTs {
			out = append(out, ci)
		}
	}
	return out, nil
}

func (f *fakeNexus) Confirmed(txid string, min int) (bool, error) {
	return !f.unconfirmed[txid], nil
}

func (f *fakeNexus) ReceivalAddress(txid, ownerID string) (string, error) {
	if addr, ok := f.receival[txid]; ok {
		return addr, nil
	}
	return f.receival[ownerID], nil
}

func (f *fakeNexus) Circulating() (int64, error) {
	return f.circulating, nil
}

func (f *fakeNexus) Heartbeat() (*NEXRPC.HeartbeatData, error) {
	return f.heartbeat, nil
}

func (f *fakeNexus) UpdateHeartbeat(hb *NEXRPC.HeartbeatData) error {
	f.heartbeat = hb
	return nil
}

func (f *fakeNexus) MaxChainReference() (uint64, error) {
	return f.maxRef, nil
}
