package workers

import (
	"context"
	"log"
	"strings"

	"gousddbridge/config"
	"gousddbridge/types"
)

// isOwnOutflow recognizes memos the engine itself writes on vault
// outflows. Those signatures must never be mistaken for deposits.
func isOwnOutflow(memo string) bool {
	return strings.HasPrefix(memo, config.MEMO_SENT_PREFIX) ||
		strings.HasPrefix(memo, config.MEMO_REFUND_PREFIX) ||
		strings.HasPrefix(memo, config.MEMO_QUARANTINE_PREFIX)
}

// RunSolanaDetection scans vault account history back to the committed
// waterline and records every new inbound transfer as a detected
// deposit. Re-detection of known or settled signatures produces
// nothing.
func (e *Engine) RunSolanaDetection(ctx context.Context) (types.PassResult, error) {
	var res types.PassResult
	now := e.now()

	scanStart, err := e.store.CommittedWatermark(ctx, types.ChainSolana)
	if err != nil {
		return res, err
	}
	if scanStart == 0 {
		scanStart = now - config.Config.Engine.MaxLookbackSec
	}
	rescan, err := e.cache.ConsumeRescan(types.ChainSolana)
	if err == nil && rescan {
		scanStart = now - config.Config.Engine.MaxLookbackSec
		log.Printf("Rescan requested, scanning Solana back to %d", scanStart)
	}

	before := ""
scan:
	for {
		if WorkerShutdown {
			break
		}
		sigs, err := e.sol.GetSignaturesForAddress(config.Config.Solana.VaultUSDCAccount, config.Config.Engine.BatchLimit, before)
		if err != nil {
			return res, err
		}
		if len(sigs) == 0 {
			break
		}
		for _, si := range sigs {
			if si.BlockTime != 0 && si.BlockTime < scanStart {
				break scan
			}
			res.Scanned++
			if si.Err != nil || isOwnOutflow(si.Memo) {
				continue
			}

			closed, err := e.store.DepositClosed(ctx, si.Signature)
			if err != nil {
				log.Printf("Error checking terminal deposit %s: %s", si.Signature, err.Error())
				res.Errored++
				continue
			}
			if closed {
				continue
			}
			existing, err := e.store.GetDeposit(ctx, si.Signature)
			if err != nil {
				log.Printf("Error checking open deposit %s: %s", si.Signature, err.Error())
				res.Errored++
				continue
			}
			if existing != nil {
				continue
			}

			detail, err := e.sol.GetDepositDetail(si.Signature)
			if err != nil {
				log.Printf("Error fetching transaction %s: %s", si.Signature, err.Error())
				res.Errored++
				continue
			}
			if detail == nil || detail.Failed {
				continue
			}

			tsFound := detail.BlockTime
			if tsFound == 0 {
				tsFound = now
			}
			inserted, err := e.store.InsertDeposit(ctx, &types.Deposit{
				Sig:         si.Signature,
				TsFound:     tsFound,
				FromAccount: detail.From,
				AmountUnits: detail.AmountUnits,
				Memo:        detail.Memo,
				Status:      types.DepositDetected,
			})
			if err != nil {
				log.Printf("Error inserting deposit %s: %s", si.Signature, err.Error())
				res.Errored++
				continue
			}
			if inserted {
				log.Printf("USDC deposit %s: from %s, amount %d, memo %q", si.Signature, detail.From, detail.AmountUnits, detail.Memo)
				res.Processed++
			}
		}
		before = sigs[len(sigs)-1].Signature
	}

	return res, nil
}
