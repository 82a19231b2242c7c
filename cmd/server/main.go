package main

import (
	"context"
	"log"

	"gousddbridge/NEXRPC"
	"gousddbridge/SOLRPC"
	"gousddbridge/config"
	"gousddbridge/redis"
	"gousddbridge/store"
	"gousddbridge/workers"

	"github.com/joho/godotenv"
)

func main() {
	log.Print("Starting USDC/USDD bridge")

	// secrets (PIN, Postgres URL) usually come from the environment
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file found, using environment as is")
	}

	config.Init()

	// connect to Redis, without it only cached views degrade
	redis.Init()
	cache := redis.NewCache()

	ctx := context.Background()
	st, err := store.New(ctx, config.Config.Server.PostgresURL)
	if err != nil {
		log.Fatalf("error connecting to Postgres: %v", err)
	}
	defer st.Close()

	engine := workers.New(st, cache, SOLRPC.NewClient(), NEXRPC.NewClient())

	// rebuild terminal markers and waterlines from chain state before
	// any detection or payout runs
	if err := engine.StartupRecovery(ctx); err != nil {
		log.Fatalf("error running startup recovery: %v", err)
	}

	// there are 6 worker threads:
	// * scan Solana vault history for deposits
	// * scan Nexus treasury for credits
	// * advance deposit state machines
	// * advance credit state machines
	// * maintenance: reservations, waterlines, fees, backing
	// * API serving HTTP server (serves as main worker thread)
	go engine.Worker_scanSolana()
	go engine.Worker_scanNexus()
	go engine.Worker_processSolana()
	go engine.Worker_processNexus()
	go engine.Worker_maintenance()

	engine.Worker_HTTP()
}
