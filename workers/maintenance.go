package workers

import (
	"context"
	"log"

	"gousddbridge/NEXRPC"
	"gousddbridge/config"
	"gousddbridge/fees"
	"gousddbridge/types"
)

// RunMaintenance is the housekeeping pass: sweep lapsed reservations,
// advance and publish the waterlines, rebuild the fee summary and
// reconcile vault backing against circulating supply.
func (e *Engine) RunMaintenance(ctx context.Context) error {
	now := e.now()

	swept, err := e.store.SweepReservations(ctx, now)
	if err != nil {
		log.Printf("Error sweeping reservations: %s", err.Error())
	} else if swept > 0 {
		log.Printf("Swept %d lapsed reservations", swept)
	}

	e.proposeWaterlines(ctx, now)

	committed, err := e.store.CommitWatermarks(ctx)
	if err != nil {
		log.Printf("Error committing watermarks: %s", err.Error())
	} else if len(committed) > 0 {
		e.publishHeartbeat(ctx, committed, now)
	}

	sum, err := e.store.FeeTotals(ctx)
	if err != nil {
		log.Printf("Error rebuilding fee summary: %s", err.Error())
	} else if err := e.cache.SetFeeSummary(sum); err != nil {
		log.Printf("Error caching fee summary: %s", err.Error())
	}

	e.reconcileBacking()

	return nil
}

// proposeWaterlines proposes, per chain, the oldest still-open item or
// the current time when nothing is open, pulled back by the safety
// margin. Nothing older can need rework after a restart.
func (e *Engine) proposeWaterlines(ctx context.Context, now int64) {
	margin := config.Config.Engine.WaterlineMarginSec

	oldestDep, err := e.store.OldestOpenDepositTs(ctx)
	if err != nil {
		log.Printf("Error reading oldest open deposit: %s", err.Error())
	} else {
		ts := now
		if oldestDep > 0 {
			ts = oldestDep
		}
		if err := e.store.ProposeWatermark(ctx, types.ChainSolana, ts-margin); err != nil {
			log.Printf("Error proposing Solana watermark: %s", err.Error())
		}
	}

	oldestCr, err := e.store.OldestOpenCreditTs(ctx)
	if err != nil {
		log.Printf("Error reading oldest open credit: %s", err.Error())
	} else {
		ts := now
		if oldestCr > 0 {
			ts = oldestCr
		}
		if err := e.store.ProposeWatermark(ctx, types.ChainNexus, ts-margin); err != nil {
			log.Printf("Error proposing Nexus watermark: %s", err.Error())
		}
	}
}

// publishHeartbeat writes both waterlines plus liveness to the
// heartbeat asset in one chain write.
func (e *Engine) publishHeartbeat(ctx context.Context, committed map[types.ChainKey]int64, now int64) {
	hb := &NEXRPC.HeartbeatData{LastPoll: now}

	var err error
	hb.SolanaWaterline, err = e.waterlineFor(ctx, committed, types.ChainSolana)
	if err != nil {
		log.Printf("Error reading Solana waterline: %s", err.Error())
		return
	}
	hb.NexusWaterline, err = e.waterlineFor(ctx, committed, types.ChainNexus)
	if err != nil {
		log.Printf("Error reading Nexus waterline: %s", err.Error())
		return
	}

	if err := e.nex.UpdateHeartbeat(hb); err != nil {
		log.Printf("Error publishing heartbeat: %s", err.Error())
	}
}

func (e *Engine) waterlineFor(ctx context.Context, committed map[types.ChainKey]int64, chain types.ChainKey) (int64, error) {
	if ts, ok := committed[chain]; ok {
		return ts, nil
	}
	return e.store.CommittedWatermark(ctx, chain)
}

// reconcileBacking compares the vault USDC balance against circulating
// USDD and flips the pause flag when backing falls below the threshold.
// The pause blocks new debits and sends only; in-flight items finish.
func (e *Engine) reconcileBacking() {
	vault, err := e.sol.GetTokenAccountBalance(config.Config.Solana.VaultUSDCAccount)
	if err != nil {
		log.Printf("Error reading vault balance: %s", err.Error())
		return
	}
	circ, err := e.nex.Circulating()
	if err != nil {
		log.Printf("Error reading circulating supply: %s", err.Error())
		return
	}

	paused := fees.BackingPaused(vault, circ, config.Config.Engine.BackingPausePct)
	prev, err := e.cache.GetBackingPaused()
	if err == nil && prev != paused {
		if paused {
			log.Printf("ERROR: vault backing %d below %d%% of circulating %d, pausing new payouts", vault, config.Config.Engine.BackingPausePct, circ)
		} else {
			log.Printf("Vault backing restored (%d vs circulating %d), resuming payouts", vault, circ)
		}
	}
	if err := e.cache.SetBackingPaused(paused); err != nil {
		log.Printf("Error setting backing pause flag: %s", err.Error())
	}
}
