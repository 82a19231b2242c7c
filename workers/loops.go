package workers

import (
	"context"
	"log"
	"time"

	"gousddbridge/config"
)

// WorkerShutdown signals all worker loops to exit after their current
// pass. Set by the HTTP worker on SIGINT/SIGTERM.
var WorkerShutdown bool

func (e *Engine) Worker_scanSolana() {
	for !WorkerShutdown {
		time.Sleep(time.Duration(config.Config.Engine.SolanaPollSec) * time.Second)

		res, err := e.RunSolanaDetection(context.Background())
		if err != nil {
			log.Printf("Error scanning Solana: %s", err.Error())
			continue
		}
		if res.Processed > 0 || res.Errored > 0 {
			log.Printf("Solana detection: %+v", res)
		}
	}
}

func (e *Engine) Worker_scanNexus() {
	for !WorkerShutdown {
		time.Sleep(time.Duration(config.Config.Engine.NexusPollSec) * time.Second)

		res, err := e.RunNexusDetection(context.Background())
		if err != nil {
			log.Printf("Error scanning Nexus: %s", err.Error())
			continue
		}
		if res.Processed > 0 || res.Errored > 0 {
			log.Printf("Nexus detection: %+v", res)
		}
	}
}

func (e *Engine) Worker_processSolana() {
	for !WorkerShutdown {
		time.Sleep(3 * time.Second)

		res, err := e.RunSolanaAdvancement(context.Background())
		if err != nil {
			log.Printf("Error advancing deposits: %s", err.Error())
			continue
		}
		if res.Processed > 0 || res.Refunded > 0 || res.Quarantined > 0 || res.FeeOnly > 0 || res.Errored > 0 {
			log.Printf("Deposit advancement: %+v", res)
		}
	}
}

func (e *Engine) Worker_processNexus() {
	for !WorkerShutdown {
		time.Sleep(3 * time.Second)

		res, err := e.RunNexusAdvancement(context.Background())
		if err != nil {
			log.Printf("Error advancing credits: %s", err.Error())
			continue
		}
		if res.Processed > 0 || res.Refunded > 0 || res.FeeOnly > 0 || res.Errored > 0 {
			log.Printf("Credit advancement: %+v", res)
		}
	}
}

func (e *Engine) Worker_maintenance() {
	for !WorkerShutdown {
		time.Sleep(time.Duration(config.Config.Engine.MaintenanceSec) * time.Second)

		if err := e.RunMaintenance(context.Background()); err != nil {
			log.Printf("Error running maintenance: %s", err.Error())
		}
	}
}
