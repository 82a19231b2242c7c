package workers

import (
	"context"
	"fmt"
	"log"

	"gousddbridge/config"
	"gousddbridge/fees"
	"gousddbridge/types"
)

// eachCredit mirrors eachDeposit for the other direction.
func (e *Engine) eachCredit(ctx context.Context, status types.CreditStatus, res *types.PassResult, start int64, f func(c *types.Credit)) error {
	batch, err := e.store.CreditsByStatus(ctx, status, config.Config.Engine.BatchLimit)
	if err != nil {
		return err
	}
	for i := range batch {
		if WorkerShutdown || e.passBudgetSpent(start) {
			res.Deferred += len(batch) - i
			return nil
		}
		c := &batch[i]
		won, err := e.store.AcquireReservation(ctx, types.KindNexusCredit, c.TxID, config.Config.Engine.ReservationTTLSec, e.now())
		if err != nil {
			log.Printf("Error acquiring reservation for %s: %s", c.TxID, err.Error())
			res.Errored++
			continue
		}
		if !won {
			res.Deferred++
			continue
		}
		f(c)
		if err := e.store.ReleaseReservation(ctx, types.KindNexusCredit, c.TxID); err != nil {
			log.Printf("Error releasing reservation for %s: %s", c.TxID, err.Error())
		}
	}
	return nil
}

// RunNexusAdvancement drives every open credit one step: resolve the
// payout mapping, send USDC, recover ambiguous submissions, confirm,
// and refund USDD when no payout is possible.
func (e *Engine) RunNexusAdvancement(ctx context.Context) (types.PassResult, error) {
	var res types.PassResult
	start := e.now()

	if err := e.eachCredit(ctx, types.CreditPendingMapping, &res, start, func(c *types.Credit) {
		e.resolveMapping(ctx, c, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachCredit(ctx, types.CreditSending, &res, start, func(c *types.Credit) {
		e.recoverSending(ctx, c, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachCredit(ctx, types.CreditReady, &res, start, func(c *types.Credit) {
		e.sendCredit(ctx, c, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachCredit(ctx, types.CreditAwaitingConfirmation, &res, start, func(c *types.Credit) {
		e.confirmCredit(ctx, c, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachCredit(ctx, types.CreditRefundPending, &res, start, func(c *types.Credit) {
		e.refundCredit(ctx, c, &res)
	}); err != nil {
		return res, err
	}
	if err := e.eachCredit(ctx, types.CreditRefundSent, &res, start, func(c *types.Credit) {
		e.confirmCreditRefund(ctx, c, &res)
	}); err != nil {
		return res, err
	}

	return res, nil
}

// resolveMapping looks up the payout address the depositor published.
// A wallet address is narrowed to its token account. Credits with no
// usable mapping wait until the timeout, then go to refund; the USDD
// source account is always a valid refund target.
func (e *Engine) resolveMapping(ctx context.Context, c *types.Credit, res *types.PassResult) {
	if c.AmountUnits < config.Config.Fees.MinDepositUnits {
		c.Message = appendMessage(c.Message, fmt.Sprintf("amount %d below minimum %d", c.AmountUnits, config.Config.Fees.MinDepositUnits))
		e.addFee(ctx, c.TxID, types.FeeMicroDeposit, 0, c.AmountUnits)
		if err := e.store.CloseCredit(ctx, c, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing credit %s: %s", c.TxID, err.Error())
			res.Errored++
			return
		}
		log.Printf("Credit %s below minimum, closed fee_only", c.TxID)
		res.FeeOnly++
		return
	}

	addr, err := e.nex.ReceivalAddress(c.TxID, c.OwnerID)
	if err != nil {
		log.Printf("Error resolving receival address for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	dest := ""
	if addr != "" {
		isToken, err := e.sol.IsTokenAccountForMint(addr)
		if err != nil {
			log.Printf("Error inspecting address %s for %s: %s", addr, c.TxID, err.Error())
			res.Errored++
			return
		}
		if isToken {
			dest = addr
		} else {
			// maybe a wallet address, find its token account
			tokenAcct, err := e.sol.USDCAccountForWallet(addr)
			if err != nil {
				log.Printf("Error resolving token account for %s: %s", addr, err.Error())
				res.Errored++
				return
			}
			dest = tokenAcct
		}
	}

	if dest == "" {
		if e.now()-c.TsFound > config.Config.Engine.MappingTimeoutSec {
			c.Status = types.CreditRefundPending
			c.Message = appendMessage(c.Message, "no receival address published before timeout")
			if err := e.store.UpdateCredit(ctx, c); err != nil {
				log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
				res.Errored++
				return
			}
			log.Printf("Credit %s mapping timed out, refunding", c.TxID)
			return
		}
		res.Deferred++
		return
	}

	net := fees.Net(c.AmountUnits, config.Config.Fees.FlatFeeUnits, config.Config.Fees.DynamicFeeBps)
	if net <= 0 {
		c.Message = appendMessage(c.Message, "fees consume full amount")
		e.addFee(ctx, c.TxID, types.FeeFlat, 0, c.AmountUnits)
		if err := e.store.CloseCredit(ctx, c, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing credit %s: %s", c.TxID, err.Error())
			res.Errored++
			return
		}
		res.FeeOnly++
		return
	}

	c.Status = types.CreditReady
	c.DestAddress = dest
	if err := e.store.UpdateCredit(ctx, c); err != nil {
		log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	res.Processed++
}

// sendCredit submits the USDC payout. The record moves to sending
// before the submit so a crash leaves an unambiguous trail; the
// recovery sub-pass then searches the chain by memo instead of
// resending blind.
func (e *Engine) sendCredit(ctx context.Context, c *types.Credit, res *types.PassResult) {
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

	key := "send_usdc:" + c.TxID
	ok, err := e.store.ShouldAttempt(ctx, key, config.Config.Engine.MaxAttempts, config.Config.Engine.CooldownSec, e.now())
	if err != nil {
		log.Printf("Error checking attempts for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	if !ok {
		count, err := e.store.AttemptCount(ctx, key)
		if err == nil && count >= config.Config.Engine.MaxAttempts {
			c.Status = types.CreditRefundPending
			c.Message = appendMessage(c.Message, "send attempts exhausted")
			if err := e.store.UpdateCredit(ctx, c); err != nil {
				log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
				res.Errored++
				return
			}
			log.Printf("Credit %s send attempts exhausted, refunding", c.TxID)
		} else {
			res.Deferred++
		}
		return
	}
	if err := e.store.RecordAttempt(ctx, key, e.now()); err != nil {
		log.Printf("Error recording attempt for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	// write sending before the submit, never after
	c.Status = types.CreditSending
	c.TsSubmitted = e.now()
	if err := e.store.UpdateCredit(ctx, c); err != nil {
		log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	net := fees.Net(c.AmountUnits, config.Config.Fees.FlatFeeUnits, config.Config.Fees.DynamicFeeBps)
	memo := config.MEMO_SENT_PREFIX + c.TxID
	log.Printf("Sending %d USDC to %s for credit %s", net, c.DestAddress, c.TxID)
	sig, err := e.sol.SendUSDC(c.DestAddress, net, memo)
	if err != nil {
		// stay in sending, the recovery sub-pass decides whether the
		// transfer actually reached the chain
		c.Message = appendMessage(c.Message, fmt.Sprintf("send error: %s", err.Error()))
		if uerr := e.store.UpdateCredit(ctx, c); uerr != nil {
			log.Printf("Error updating credit %s: %s", c.TxID, uerr.Error())
		}
		log.Printf("Error sending USDC for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	c.Status = types.CreditAwaitingConfirmation
	c.SendSig = sig
	if err := e.store.UpdateCredit(ctx, c); err != nil {
		log.Printf("Error updating credit %s after send: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	res.Processed++
}

// recoverSending resolves a submission whose outcome is unknown. The
// chain is searched for the idempotency memo; only a definite absence
// sends the credit back to ready for another governed attempt.
func (e *Engine) recoverSending(ctx context.Context, c *types.Credit, res *types.PassResult) {
	memo := config.MEMO_SENT_PREFIX + c.TxID
	sig, err := e.sol.FindSignatureWithMemo(memo, c.TsFound)
	if err != nil {
		log.Printf("Error searching prior send for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	if sig != "" {
		c.Status = types.CreditAwaitingConfirmation
		c.SendSig = sig
		if err := e.store.UpdateCredit(ctx, c); err != nil {
			log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
			res.Errored++
			return
		}
		log.Printf("Recovered send %s for credit %s", sig, c.TxID)
		res.Processed++
		return
	}

	c.Status = types.CreditReady
	if err := e.store.UpdateCredit(ctx, c); err != nil {
		log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	res.Processed++
}

// confirmCredit waits for the payout to confirm. A signature that never
// confirms within the window parks the credit for reconciliation, a
// refund at that point could double pay.
func (e *Engine) confirmCredit(ctx context.Context, c *types.Credit, res *types.PassResult) {
	confirmed, err := e.sol.Confirmed(c.SendSig, config.Config.Solana.Confirmations)
	if err != nil {
		log.Printf("Error checking send %s for %s: %s", c.SendSig, c.TxID, err.Error())
		res.Errored++
		return
	}
	if confirmed {
		net := fees.Net(c.AmountUnits, config.Config.Fees.FlatFeeUnits, config.Config.Fees.DynamicFeeBps)
		e.addFee(ctx, c.TxID, types.FeeFlat, 0, config.Config.Fees.FlatFeeUnits)
		if dyn := fees.Dynamic(c.AmountUnits, config.Config.Fees.DynamicFeeBps); dyn > 0 {
			e.addFee(ctx, c.TxID, types.FeeDynamic, 0, dyn)
		}
		if err := e.store.CloseCredit(ctx, c, types.OutcomeProcessed, net, e.now()); err != nil {
			log.Printf("Error closing credit %s: %s", c.TxID, err.Error())
			res.Errored++
			return
		}
		if err := e.store.ResetAttempts(ctx, "send_usdc:"+c.TxID); err != nil {
			log.Printf("Error resetting attempts for %s: %s", c.TxID, err.Error())
		}
		log.Printf("Credit %s processed: %d USDC to %s (sig %s)", c.TxID, net, c.DestAddress, c.SendSig)
		res.Processed++
		return
	}

	if c.TsSubmitted > 0 && e.now()-c.TsSubmitted > config.Config.Engine.ConfirmTimeoutSec {
		c.Status = types.CreditNeedsReconciliation
		c.Message = appendMessage(c.Message, fmt.Sprintf("send %s unconfirmed after timeout", c.SendSig))
		if err := e.store.UpdateCredit(ctx, c); err != nil {
			log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
			res.Errored++
			return
		}
		log.Printf("ERROR: credit %s send unconfirmed after timeout, operator action required", c.TxID)
		return
	}
	res.Deferred++
}

// refundCredit debits USDD back to the source account.
func (e *Engine) refundCredit(ctx context.Context, c *types.Credit, res *types.PassResult) {
	refundNet := fees.RefundNet(c.AmountUnits, config.Config.Fees.RefundFlatFeeUnits)
	if refundNet <= 0 {
		c.Message = appendMessage(c.Message, "refund fee consumes full amount")
		e.addFee(ctx, c.TxID, types.FeeRefundMicro, 0, c.AmountUnits)
		if err := e.store.CloseCredit(ctx, c, types.OutcomeFeeOnly, 0, e.now()); err != nil {
			log.Printf("Error closing credit %s: %s", c.TxID, err.Error())
			res.Errored++
			return
		}
		res.FeeOnly++
		return
	}

	key := "refund_usdd:" + c.TxID
	ok, err := e.store.ShouldAttempt(ctx, key, config.Config.Engine.MaxAttempts, config.Config.Engine.CooldownSec, e.now())
	if err != nil {
		log.Printf("Error checking attempts for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	if !ok {
		count, err := e.store.AttemptCount(ctx, key)
		if err == nil && count >= config.Config.Engine.MaxAttempts {
			c.Status = types.CreditNeedsReconciliation
			c.Message = appendMessage(c.Message, "refund attempts exhausted")
			if err := e.store.UpdateCredit(ctx, c); err != nil {
				log.Printf("Error updating credit %s: %s", c.TxID, err.Error())
				res.Errored++
				return
			}
			log.Printf("ERROR: credit %s refund attempts exhausted, operator action required", c.TxID)
		} else {
			res.Deferred++
		}
		return
	}
	if err := e.store.RecordAttempt(ctx, key, e.now()); err != nil {
		log.Printf("Error recording attempt for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	reference, err := e.store.NextReference(ctx)
	if err != nil {
		log.Printf("Error getting refund reference for %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	log.Printf("Refunding %d USDD to %s for credit %s (ref %d)", refundNet, c.FromAccount, c.TxID, reference)
	txid, err := e.nex.DebitUSDD(c.FromAccount, refundNet, reference)
	if err != nil {
		c.Message = appendMessage(c.Message, fmt.Sprintf("refund error: %s", err.Error()))
		if uerr := e.store.UpdateCredit(ctx, c); uerr != nil {
			log.Printf("Error updating credit %s: %s", c.TxID, uerr.Error())
		}
		log.Printf("Error refunding credit %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}

	c.Status = types.CreditRefundSent
	c.RefundTxID = txid
	if err := e.store.UpdateCredit(ctx, c); err != nil {
		log.Printf("Error updating credit %s after refund: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	res.Refunded++
}

func (e *Engine) confirmCreditRefund(ctx context.Context, c *types.Credit, res *types.PassResult) {
	confirmed, err := e.nex.Confirmed(c.RefundTxID, config.Config.Nexus.Confirmations)
	if err != nil {
		log.Printf("Error checking refund %s for %s: %s", c.RefundTxID, c.TxID, err.Error())
		res.Errored++
		return
	}
	if !confirmed {
		res.Deferred++
		return
	}

	refundNet := fees.RefundNet(c.AmountUnits, config.Config.Fees.RefundFlatFeeUnits)
	e.addFee(ctx, c.TxID, types.FeeRefundFlat, 0, config.Config.Fees.RefundFlatFeeUnits)
	if err := e.store.CloseCredit(ctx, c, types.OutcomeRefunded, refundNet, e.now()); err != nil {
		log.Printf("Error closing credit %s: %s", c.TxID, err.Error())
		res.Errored++
		return
	}
	if err := e.store.ResetAttempts(ctx, "refund_usdd:"+c.TxID); err != nil {
		log.Printf("Error resetting attempts for %s: %s", c.TxID, err.Error())
	}
	log.Printf("Credit %s refunded: %d USDD to %s (txid %s)", c.TxID, refundNet, c.FromAccount, c.RefundTxID)
	res.Refunded++
}
