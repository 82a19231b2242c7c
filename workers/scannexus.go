package workers

import (
	"context"
	"log"

	"gousddbridge/config"
	"gousddbridge/types"
)

// RunNexusDetection pages through treasury account transactions back to
// the committed waterline and records every sufficiently confirmed
// inbound credit. Credits start in pending_mapping; the advancement
// pass resolves the payout address.
func (e *Engine) RunNexusDetection(ctx context.Context) (types.PassResult, error) {
	var res types.PassResult
	now := e.now()

	scanStart, err := e.store.CommittedWatermark(ctx, types.ChainNexus)
	if err != nil {
		return res, err
	}
	if scanStart == 0 {
		scanStart = now - config.Config.Engine.MaxLookbackSec
	}
	rescan, err := e.cache.ConsumeRescan(types.ChainNexus)
	if err == nil && rescan {
		scanStart = now - config.Config.Engine.MaxLookbackSec
		log.Printf("Rescan requested, scanning Nexus back to %d", scanStart)
	}

	credits, err := e.nex.TreasuryCredits(scanStart, config.Config.Engine.BatchLimit)
	if err != nil {
		return res, err
	}
	for _, ci := range credits {
		if WorkerShutdown {
			break
		}
		res.Scanned++
		if ci.Confirmations < config.Config.Nexus.Confirmations {
			res.Deferred++
			continue
		}

		closed, err := e.store.CreditClosed(ctx, ci.TxID)
		if err != nil {
			log.Printf("Error checking terminal credit %s: %s", ci.TxID, err.Error())
			res.Errored++
			continue
		}
		if closed {
			continue
		}
		existing, err := e.store.GetCredit(ctx, ci.TxID)
		if err != nil {
			log.Printf("Error checking open credit %s: %s", ci.TxID, err.Error())
			res.Errored++
			continue
		}
		if existing != nil {
			continue
		}

		tsFound := ci.Ts
		if tsFound == 0 {
			tsFound = now
		}
		inserted, err := e.store.InsertCredit(ctx, &types.Credit{
			TxID:        ci.TxID,
			TsFound:     tsFound,
			FromAccount: ci.From,
			OwnerID:     ci.OwnerID,
			AmountUnits: ci.AmountUnits,
			Status:      types.CreditPendingMapping,
		})
		if err != nil {
			log.Printf("Error inserting credit %s: %s", ci.TxID, err.Error())
			res.Errored++
			continue
		}
		if inserted {
			log.Printf("USDD credit %s: from %s, owner %s, amount %d", ci.TxID, ci.From, ci.OwnerID, ci.AmountUnits)
			res.Processed++
		}
	}

	return res, nil
}
