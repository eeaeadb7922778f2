package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/vireonet/vireo/pkg/config"
	"github.com/vireonet/vireo/pkg/consensus"
)

func newServerCommands() []cli.Command {
	return []cli.Command{
		{
			Name:  "server",
			Usage: "run or inspect a consensus participant",
			Subcommands: []cli.Command{
				{
					Name:   "start",
					Usage:  "open the consensus store and build the consensus actor from the config, without starting it",
					Flags:  []cli.Flag{configFlag},
					Action: startServer,
				},
				{
					Name:   "check-config",
					Usage:  "validate a yaml configuration file and print the resolved Consensus section",
					Flags:  []cli.Flag{configFlag},
					Action: checkConfig,
				},
			},
		},
	}
}

// startServer opens the store and builds a consensus.Service from cfg,
// then returns without starting it. The ledger/mempool/validator-set
// callbacks a real deployment needs are supplied by the embedding
// application via consensus.Config; this command only constructs the
// wiring it can build standalone (logger, persistence, policy limits).
func startServer(ctx *cli.Context) error {
	appCfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	log, err := config.NewLogger(appCfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := consensus.OpenStore(appCfg.DBPath+"/dbft.db", appCfg.DBPath+"/recovery-archive")
	if err != nil {
		return err
	}
	defer store.Close()

	log.Info("consensus store opened, waiting for host application to supply validator-set wiring")

	recoveryThrottle := time.Duration(appCfg.Consensus.RecoveryRequestMinIntervalMs) * time.Millisecond

	svc := consensus.NewService(consensus.Config{
		Logger:                  log,
		Store:                   store,
		SecondsPerBlock:         time.Duration(appCfg.Consensus.SecondsPerBlock) * time.Second,
		MaxTransactionsPerBlock: appCfg.Consensus.MaxTransactionsPerBlock,
		MaxBlockSize:            appCfg.Consensus.MaxBlockSize,
		MaxBlockSystemFee:       appCfg.Consensus.MaxBlockSystemFee,
	}, recoveryThrottle)
	_ = svc

	log.Info("run blocked: register GetKeyPair/GetValidators/ProcessBlock/etc before calling Service.Start")

	return nil
}

func checkConfig(ctx *cli.Context) error {
	appCfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("SecondsPerBlock: %d\n", appCfg.Consensus.SecondsPerBlock)
	fmt.Printf("MaxTransactionsPerBlock: %d\n", appCfg.Consensus.MaxTransactionsPerBlock)
	fmt.Printf("MaxBlockSize: %d\n", appCfg.Consensus.MaxBlockSize)
	fmt.Printf("MaxBlockSystemFee: %d\n", appCfg.Consensus.MaxBlockSystemFee)

	return nil
}
