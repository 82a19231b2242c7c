package workers

import (
	"context"
	"log"

	"gousddbridge/config"
	"gousddbridge/store"
	"gousddbridge/types"
)

// StartupRecovery runs once before the worker loops start. It pulls the
// published waterlines from the heartbeat asset, rebuilds terminal
// markers from the idempotency memos already on chain and seeds the
// debit reference counter past anything visible on Nexus. After this
// the detection passes can re-scan the recovery window without causing
// a single duplicate payout.
func (e *Engine) StartupRecovery(ctx context.Context) error {
	now := e.now()
	floor := now - config.Config.Engine.MaxLookbackSec

	solStart, nexStart := floor, floor
	hb, err := e.nex.Heartbeat()
	if err != nil {
		log.Printf("Error reading heartbeat asset, using max lookback: %s", err.Error())
	} else {
		if hb.SolanaWaterline > solStart {
			solStart = hb.SolanaWaterline
		}
		if hb.NexusWaterline > nexStart {
			nexStart = hb.NexusWaterline
		}
	}

	scan, err := e.sol.ScanMemosSince(solStart)
	if err != nil {
		return err
	}
	rebuilt := 0
	for txid, sig := range scan.NexusTxids {
		ok, err := e.store.InsertCreditMarker(ctx, txid, types.OutcomeProcessed, sig, now)
		if err != nil {
			log.Printf("Error inserting credit marker %s: %s", txid, err.Error())
			continue
		}
		if ok {
			rebuilt++
		}
	}
	for depSig, refundSig := range scan.RefundSigs {
		ok, err := e.store.InsertDepositMarker(ctx, depSig, types.OutcomeRefunded, refundSig, now)
		if err != nil {
			log.Printf("Error inserting deposit marker %s: %s", depSig, err.Error())
			continue
		}
		if ok {
			rebuilt++
		}
	}
	for depSig, qSig := range scan.QuarantineSigs {
		ok, err := e.store.InsertDepositMarker(ctx, depSig, types.OutcomeQuarantined, qSig, now)
		if err != nil {
			log.Printf("Error inserting deposit marker %s: %s", depSig, err.Error())
			continue
		}
		if ok {
			rebuilt++
		}
	}
	if rebuilt > 0 {
		log.Printf("Rebuilt %d terminal markers from chain memos", rebuilt)
	}

	maxRef, err := e.nex.MaxChainReference()
	if err != nil {
		log.Printf("Error scanning chain references: %s", err.Error())
	} else {
		last, err := e.store.LastReference(ctx)
		if err != nil {
			log.Printf("Error reading reference counter: %s", err.Error())
		} else if maxRef > last {
			log.Printf("Seeding reference counter from chain: %d > %d", maxRef, last)
			if err := e.store.SeedReference(ctx, maxRef); err != nil {
				log.Printf("Error seeding reference counter: %s", err.Error())
			}
		}
	}

	// seed the local waterlines from the published ones so the first
	// detection pass scans the recovery window, not the full lookback
	if err := e.seedWatermark(ctx, types.ChainSolana, solStart); err != nil {
		return err
	}
	if err := e.seedWatermark(ctx, types.ChainNexus, nexStart); err != nil {
		return err
	}
	if _, err := e.store.CommitWatermarks(ctx); err != nil {
		return err
	}

	log.Printf("Startup recovery complete, scanning Solana from %d, Nexus from %d", solStart, nexStart)
	return nil
}

func (e *Engine) seedWatermark(ctx context.Context, chain types.ChainKey, ts int64) error {
	committed, err := e.store.CommittedWatermark(ctx, chain)
	if err != nil {
		return err
	}
	return e.store.ProposeWatermark(ctx, chain, store.Advance(committed, ts))
}
