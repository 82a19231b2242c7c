package workers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"gousddbridge/config"
	"gousddbridge/fees"
	"gousddbridge/types"
)

func appendMessage(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}

func (e *Engine) addFee(ctx context.Context, ref string, kind types.FeeKind, usdcUnits, usddUnits int64) {
	err := e.store.AddFeeEntry(ctx, &types.FeeEntry{
		Ref:             ref,
		Kind:            kind,
		AmountUSDCUnits: usdcUnits,
		AmountUSDDUnits: usddUnits,
		Ts:              e.now(),
	})
	if err != nil {
		// the summary is rebuilt from the ledger, a lost entry only
		// understates reported fees
		log.Printf("Error recording fee entry for %s: %s", ref, err.Error())
	}
}

// passBudgetSpent bounds a single pass so one slow batch cannot starve
// the other workers.
func (e *Engine) passBudgetSpent(start int64) bool {
	return e.now()-start >= int64(config.Config.Engine.PassBudgetSec)
}

// eachDeposit runs f over open deposits in status, holding the item
// reservation for the duration of f. Items whose reservation is held
// elsewhere are counted as deferred and skipped.
func (e *Engine) eachDeposit(ctx context.Context, status types.DepositStatus, res *types.PassResult, start int64, f func(d *types.Deposit)) error {
	batch, err := e.store.DepositsByStatus(ctx, status, config.Config.Engine.BatchLimit)
	if err != nil {
		return err
	}
	for i := range batch {
		if WorkerShutdown || e.passBudgetSpent(start) {
			res.Deferred += len(batch) - i
			return nil
		}
		d := &batch[i]
		won, err := e.store.AcquireReservation(ctx, types.KindSolanaDeposit, d.Sig, config.Config.Engine.ReservationTTLSec, e.now())
		if err != nil {
			log.Printf("Error acquiring reservation for %s: %s", d.Sig, err.Error())
			res.Errored++
			continue
		}
		if !won {
			res.Deferred++
			continue
		}
		f(d)
		if err := e.store.ReleaseReservation(ctx, types.KindSolanaDeposit, d.Sig); err != nil {
			log.Printf("Error releasing reservation for %s: %s", d.Sig, err.Error())
		}
	}
	return nil
}

// RunSolanaAdvancement drives every open deposit one step through its
// state machine: validate, debit USDD, confirm, and the refund and
// quarantine fallbacks.
func (e *Engine) RunSolanaAdvancement(ctx context.Context) (types.PassResult, error) {
	var res types.PassResult
	start := e.now()

	if err := e.eachDeposit(ctx, types.DepositDetected, &res, start, func(d *types.Deposit) {
		e.validateDeposit(ctx, d, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachDeposit(ctx, types.DepositReady, &res, start, func(d *types.Deposit) {
		e.debitDeposit(ctx, d, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachDeposit(ctx, types.DepositDebitSent, &res, start, func(d *types.Deposit) {
		e.confirmDebit(ctx, d, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachDeposit(ctx, types.DepositToBeRefunded, &res, start, func(d *types.Deposit) {
		e.refundDeposit(ctx, d, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachDeposit(ctx, types.DepositRefundSent, &res, start, func(d *types.Deposit) {
		e.confirmDepositRefund(ctx, d, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachDeposit(ctx, types.DepositToBeQuarantined, &res, start, func(d *types.Deposit) {
		e.quarantineDeposit(ctx, d, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachDeposit(ctx, types.DepositQuarantineSent, &res, start, func(d *types.Deposit) {
		e.confirmQuarantine(ctx, d, &res)
	}); err != nil {
		return res, err
	}

	return res, nil
}

// validateDeposit decides what a detected deposit becomes: a payout, a
// refund, or a fee-only close for amounts too small to move.
func (e *Engine) validateDeposit(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	confirmed, err := e.sol.Confirmed(d.Sig, config.Config.Solana.Confirmations)
	if err != nil {
		log.Printf("Error checking confirmations for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if !confirmed {
		res.Deferred++
		return
	}

	if d.AmountUnits < config.Config.Fees.MinDepositUnits {
		d.Message = appendMessage(d.Message, fmt.Sprintf("amount %d below minimum %d", d.AmountUnits, config.Config.Fees.MinDepositUnits))
		e.addFee(ctx, d.Sig, types.FeeMicroDeposit, d.AmountUnits, 0)
		if err := e.store.CloseDeposit(ctx, d, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		log.Printf("Deposit %s below minimum, closed fee_only", d.Sig)
		res.FeeOnly++
		return
	}

	if !strings.HasPrefix(d.Memo, config.MEMO_DEPOSIT_PREFIX) {
		d.Status = types.DepositToBeRefunded
		d.Message = appendMessage(d.Message, "missing receival account memo")
		if err := e.store.UpdateDeposit(ctx, d); err != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
			res.Errored++
		}
		return
	}
	dest := strings.TrimSpace(strings.TrimPrefix(d.Memo, config.MEMO_DEPOSIT_PREFIX))

	valid, err := e.nex.ValidUSDDAccount(dest)
	if err != nil {
		log.Printf("Error validating account %s for %s: %s", dest, d.Sig, err.Error())
		res.Errored++
		return
	}
	if !valid {
		d.Status = types.DepositToBeRefunded
		d.Message = appendMessage(d.Message, fmt.Sprintf("invalid receival account %s", dest))
		if err := e.store.UpdateDeposit(ctx, d); err != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
			res.Errored++
		}
		return
	}

	net := fees.Net(d.AmountUnits, config.Config.Fees.FlatFeeUnits, config.Config.Fees.DynamicFeeBps)
	if net <= 0 {
		d.Message = appendMessage(d.Message, "fees consume full amount")
		e.addFee(ctx, d.Sig, types.FeeFlat, d.AmountUnits, 0)
		if err := e.store.CloseDeposit(ctx, d, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		res.FeeOnly++
		return
	}

	d.Status = types.DepositReady
	d.DestAccount = dest
	if err := e.store.UpdateDeposit(ctx, d); err != nil {
		log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	res.Processed++
}

// debitDeposit submits the USDD debit for a validated deposit. The
// attempt is recorded before submission while the reservation is held,
// so a crash mid-submit costs an attempt, never a double debit beyond
// the governor bound.
func (e *Engine) debitDeposit(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	paused, err := e.cache.GetBackingPaused()
	if err != nil {
		// cannot see the pause flag, treat as paused
		log.Printf("Error reading backing pause flag: %s", err.Error())
		res.Deferred++
		return
	}
	if paused {
		res.Deferred++
		return
	}

	key := "debit_usdd:" + d.Sig
	ok, err := e.store.ShouldAttempt(ctx, key, config.Config.Engine.MaxAttempts, config.Config.Engine.CooldownSec, e.now())
	if err != nil {
		log.Printf("Error checking attempts for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if !ok {
		count, err := e.store.AttemptCount(ctx, key)
		if err == nil && count >= config.Config.Engine.MaxAttempts {
			d.Status = types.DepositToBeRefunded
			d.Message = appendMessage(d.Message, "debit attempts exhausted")
			if err := e.store.UpdateDeposit(ctx, d); err != nil {
				log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
				res.Errored++
				return
			}
			log.Printf("Deposit %s debit attempts exhausted, refunding", d.Sig)
		} else {
			res.Deferred++
		}
		return
	}

	if err := e.store.RecordAttempt(ctx, key, e.now()); err != nil {
		log.Printf("Error recording attempt for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	net := fees.Net(d.AmountUnits, config.Config.Fees.FlatFeeUnits, config.Config.Fees.DynamicFeeBps)
	reference, err := e.store.NextReference(ctx)
	if err != nil {
		log.Printf("Error getting debit reference for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	log.Printf("Debiting %d USDD to %s for deposit %s (ref %d)", net, d.DestAccount, d.Sig, reference)
	txid, err := e.nex.DebitUSDD(d.DestAccount, net, reference)
	if err != nil {
		d.Message = appendMessage(d.Message, fmt.Sprintf("debit error: %s", err.Error()))
		if uerr := e.store.UpdateDeposit(ctx, d); uerr != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, uerr.Error())
		}
		log.Printf("Error debiting USDD for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	d.Status = types.DepositDebitSent
	d.DebitTxID = txid
	if err := e.store.UpdateDeposit(ctx, d); err != nil {
		log.Printf("Error updating deposit %s after debit: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	res.Processed++
}

func (e *Engine) confirmDebit(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	confirmed, err := e.nex.Confirmed(d.DebitTxID, config.Config.Nexus.Confirmations)
	if err != nil {
		log.Printf("Error checking debit %s for %s: %s", d.DebitTxID, d.Sig, err.Error())
		res.Errored++
		return
	}
	if !confirmed {
		res.Deferred++
		return
	}

	net := fees.Net(d.AmountUnits, config.Config.Fees.FlatFeeUnits, config.Config.Fees.DynamicFeeBps)
	e.addFee(ctx, d.Sig, types.FeeFlat, config.Config.Fees.FlatFeeUnits, 0)
	if dyn := fees.Dynamic(d.AmountUnits, config.Config.Fees.DynamicFeeBps); dyn > 0 {
		e.addFee(ctx, d.Sig, types.FeeDynamic, dyn, 0)
	}
	if err := e.store.CloseDeposit(ctx, d, types.OutcomeProcessed, net, e.now()); err != nil {
		log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if err := e.store.ResetAttempts(ctx, "debit_usdd:"+d.Sig); err != nil {
		log.Printf("Error resetting attempts for %s: %s", d.Sig, err.Error())
	}
	log.Printf("Deposit %s processed: %d USDD to %s (txid %s)", d.Sig, net, d.DestAccount, d.DebitTxID)
	res.Processed++
}

// refundDeposit sends USDC back to the depositor, minus the refund fee.
// The recorded source is re-validated before any send: it must be a
// token account for the mint, or a wallet whose token account can be
// resolved. Anything else goes to quarantine instead.
// A prior submission is searched for by memo before any resend.
func (e *Engine) refundDeposit(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	refundNet := fees.RefundNet(d.AmountUnits, config.Config.Fees.RefundFlatFeeUnits)
	if refundNet <= 0 {
		d.Message = appendMessage(d.Message, "refund fee consumes full amount")
		e.addFee(ctx, d.Sig, types.FeeRefundMicro, d.AmountUnits, 0)
		if err := e.store.CloseDeposit(ctx, d, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		res.FeeOnly++
		return
	}

	target := d.FromAccount
	if target == "" {
		d.Status = types.DepositToBeQuarantined
		d.Message = appendMessage(d.Message, "no source account to refund")
		if err := e.store.UpdateDeposit(ctx, d); err != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
			res.Errored++
		}
		return
	}
	isTokenAcct, err := e.sol.IsTokenAccountForMint(target)
	if err != nil {
		log.Printf("Error checking refund account %s for %s: %s", target, d.Sig, err.Error())
		res.Errored++
		return
	}
	if !isTokenAcct {
		ata, err := e.sol.USDCAccountForWallet(target)
		if err != nil {
			log.Printf("Error resolving refund account for %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		if ata == "" {
			d.Status = types.DepositToBeQuarantined
			d.Message = appendMessage(d.Message, fmt.Sprintf("source %s not refundable", target))
			if err := e.store.UpdateDeposit(ctx, d); err != nil {
				log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
				res.Errored++
			}
			return
		}
		target = ata
	}

	memo := config.MEMO_REFUND_PREFIX + d.Sig
	prior, err := e.sol.FindSignatureWithMemo(memo, d.TsFound)
	if err != nil {
		log.Printf("Error searching prior refund for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if prior != "" {
		d.Status = types.DepositRefundSent
		d.RefundSig = prior
		if err := e.store.UpdateDeposit(ctx, d); err != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		log.Printf("Found prior refund %s for deposit %s, not resending", prior, d.Sig)
		return
	}

	key := "refund_usdc:" + d.Sig
	ok, err := e.store.ShouldAttempt(ctx, key, config.Config.Engine.MaxAttempts, config.Config.Engine.CooldownSec, e.now())
	if err != nil {
		log.Printf("Error checking attempts for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if !ok {
		count, err := e.store.AttemptCount(ctx, key)
		if err == nil && count >= config.Config.Engine.MaxAttempts {
			d.Status = types.DepositToBeQuarantined
			d.Message = appendMessage(d.Message, "refund attempts exhausted")
			if err := e.store.UpdateDeposit(ctx, d); err != nil {
				log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
				res.Errored++
				return
			}
			log.Printf("Deposit %s refund attempts exhausted, quarantining", d.Sig)
		} else {
			res.Deferred++
		}
		return
	}
	if err := e.store.RecordAttempt(ctx, key, e.now()); err != nil {
		log.Printf("Error recording attempt for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	log.Printf("Refunding %d USDC to %s for deposit %s", refundNet, target, d.Sig)
	sig, err := e.sol.SendUSDC(target, refundNet, memo)
	if err != nil {
		d.Message = appendMessage(d.Message, fmt.Sprintf("refund error: %s", err.Error()))
		if uerr := e.store.UpdateDeposit(ctx, d); uerr != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, uerr.Error())
		}
		log.Printf("Error refunding deposit %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	d.Status = types.DepositRefundSent
	d.RefundSig = sig
	if err := e.store.UpdateDeposit(ctx, d); err != nil {
		log.Printf("Error updating deposit %s after refund: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	res.Refunded++
}

func (e *Engine) confirmDepositRefund(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	confirmed, err := e.sol.Confirmed(d.RefundSig, config.Config.Solana.Confirmations)
	if err != nil {
		log.Printf("Error checking refund %s for %s: %s", d.RefundSig, d.Sig, err.Error())
		res.Errored++
		return
	}
	if !confirmed {
		res.Deferred++
		return
	}

	refundNet := fees.RefundNet(d.AmountUnits, config.Config.Fees.RefundFlatFeeUnits)
	e.addFee(ctx, d.Sig, types.FeeRefundFlat, config.Config.Fees.RefundFlatFeeUnits, 0)
	if err := e.store.CloseDeposit(ctx, d, types.OutcomeRefunded, refundNet, e.now()); err != nil {
		log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if err := e.store.ResetAttempts(ctx, "refund_usdc:"+d.Sig); err != nil {
		log.Printf("Error resetting attempts for %s: %s", d.Sig, err.Error())
	}
	log.Printf("Deposit %s refunded: %d USDC to %s (sig %s)", d.Sig, refundNet, d.FromAccount, d.RefundSig)
	res.Refunded++
}

// quarantineDeposit moves stuck value to the quarantine account, minus
// the flat refund fee, so the vault ledger stays reconcilable.
// Exhaustion here parks the deposit as quarantine_failed for the
// operator.
func (e *Engine) quarantineDeposit(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	qNet := fees.RefundNet(d.AmountUnits, config.Config.Fees.RefundFlatFeeUnits)
	if qNet <= 0 {
		d.Message = appendMessage(d.Message, "quarantine fee consumes full amount")
		e.addFee(ctx, d.Sig, types.FeeRefundMicro, d.AmountUnits, 0)
		if err := e.store.CloseDeposit(ctx, d, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		res.FeeOnly++
		return
	}

	memo := config.MEMO_QUARANTINE_PREFIX + d.Sig
	prior, err := e.sol.FindSignatureWithMemo(memo, d.TsFound)
	if err != nil {
		log.Printf("Error searching prior quarantine for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if prior != "" {
		d.Status = types.DepositQuarantineSent
		d.RefundSig = prior
		if err := e.store.UpdateDeposit(ctx, d); err != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
			res.Errored++
			return
		}
		log.Printf("Found prior quarantine %s for deposit %s, not resending", prior, d.Sig)
		return
	}

	key := "quarantine_usdc:" + d.Sig
	ok, err := e.store.ShouldAttempt(ctx, key, config.Config.Engine.MaxAttempts, config.Config.Engine.CooldownSec, e.now())
	if err != nil {
		log.Printf("Error checking attempts for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if !ok {
		count, err := e.store.AttemptCount(ctx, key)
		if err == nil && count >= config.Config.Engine.MaxAttempts {
			d.Status = types.DepositQuarantineFailed
			d.Message = appendMessage(d.Message, "quarantine attempts exhausted")
			if err := e.store.UpdateDeposit(ctx, d); err != nil {
				log.Printf("Error updating deposit %s: %s", d.Sig, err.Error())
				res.Errored++
				return
			}
			log.Printf("ERROR: deposit %s quarantine attempts exhausted, operator action required", d.Sig)
		} else {
			res.Deferred++
		}
		return
	}
	if err := e.store.RecordAttempt(ctx, key, e.now()); err != nil {
		log.Printf("Error recording attempt for %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	log.Printf("Quarantining %d USDC for deposit %s", qNet, d.Sig)
	sig, err := e.sol.SendUSDC(config.Config.Solana.QuarantineAccount, qNet, memo)
	if err != nil {
		d.Message = appendMessage(d.Message, fmt.Sprintf("quarantine error: %s", err.Error()))
		if uerr := e.store.UpdateDeposit(ctx, d); uerr != nil {
			log.Printf("Error updating deposit %s: %s", d.Sig, uerr.Error())
		}
		log.Printf("Error quarantining deposit %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}

	d.Status = types.DepositQuarantineSent
	d.RefundSig = sig
	if err := e.store.UpdateDeposit(ctx, d); err != nil {
		log.Printf("Error updating deposit %s after quarantine: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	res.Quarantined++
}

func (e *Engine) confirmQuarantine(ctx context.Context, d *types.Deposit, res *types.PassResult) {
	confirmed, err := e.sol.Confirmed(d.RefundSig, config.Config.Solana.Confirmations)
	if err != nil {
		log.Printf("Error checking quarantine %s for %s: %s", d.RefundSig, d.Sig, err.Error())
		res.Errored++
		return
	}
	if !confirmed {
		res.Deferred++
		return
	}

	qNet := fees.RefundNet(d.AmountUnits, config.Config.Fees.RefundFlatFeeUnits)
	e.addFee(ctx, d.Sig, types.FeeQuarantineFlat, config.Config.Fees.RefundFlatFeeUnits, 0)
	if err := e.store.CloseDeposit(ctx, d, types.OutcomeQuarantined, qNet, e.now()); err != nil {
		log.Printf("Error closing deposit %s: %s", d.Sig, err.Error())
		res.Errored++
		return
	}
	if err := e.store.ResetAttempts(ctx, "quarantine_usdc:"+d.Sig); err != nil {
		log.Printf("Error resetting attempts for %s: %s", d.Sig, err.Error())
	}
	log.Printf("Deposit %s quarantined (sig %s)", d.Sig, d.RefundSig)
	res.Quarantined++
}
