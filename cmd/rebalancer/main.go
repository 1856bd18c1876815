package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/quantfold/rebalancer/internal/broker/alpaca"
	"github.com/quantfold/rebalancer/internal/config"
	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/quantfold/rebalancer/internal/postgres"
	"github.com/quantfold/rebalancer/internal/runner"
	"github.com/quantfold/rebalancer/internal/store"
	"github.com/quantfold/rebalancer/internal/strategy"
	"github.com/quantfold/rebalancer/internal/symbol"
	"github.com/shopspring/decimal"
)

const (
	_cfgFilePath = "./configs/rebalancer.yaml"
)

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(_cfgFilePath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load config", err)
	}

	alpacaCfg, err := config.LoadAlpacaConfig()
	if err != nil {
		zapLogger.Fatalf("%s: can't load alpaca credentials", err)
	}

	pgConfig := postgres.NewConfigFromEnv().Setup()
	zapLogger.Debugf("trying to connect to db with: %s", pgConfig)
	db, err := postgres.NewDB(pgConfig)
	if err != nil {
		zapLogger.Fatalf("%s: can't connect to db", err)
	}
	defer db.Close()

	pairs := symbol.DefaultPairs()
	for compact, slashed := range cfg.Pairs {
		pairs[compact] = slashed
	}
	symbols := symbol.NewTable(pairs)

	st := store.New(db)
	brokerClient := alpaca.NewClient(alpacaCfg.APIKey, alpacaCfg.APISecret, symbols, zapLogger)

	strategies := make([]strategy.Strategy, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		capital := decimal.NewFromFloat(sc.StartingCapital)
		threshold := decimal.NewFromFloat(sc.RebalanceThreshold)

		allocations := make([]strategy.AssetAllocation, 0, len(sc.Allocations))
		for _, a := range sc.Allocations {
			allocations = append(allocations, strategy.AssetAllocation{
				Symbol:          a.Symbol,
				Weight:          decimal.NewFromFloat(a.Weight),
				Class:           a.Class,
				StartingCapital: capital,
			})
		}

		engine := strategy.NewEngine(brokerClient, st, symbols, sc.Name, capital, sc.ExecutionStyle, zapLogger)

		var (
			s        strategy.Strategy
			buildErr error
		)
		switch sc.Type {
		case config.BuyAndHold:
			s, buildErr = strategy.NewBuyAndHold(engine, allocations, threshold, sc.Interval, zapLogger)
		default:
			s, buildErr = strategy.NewConstantPercentage(engine, allocations, threshold, sc.Interval, zapLogger)
		}
		if buildErr != nil {
			zapLogger.Fatalf("%s: can't build strategy %s", buildErr, sc.Name)
		}

		strategies = append(strategies, s)
	}

	zapLogger.Infof("starting %d strategies", len(strategies))
	runner.New(strategies, clock.New(), zapLogger).Run(ctx)
	zapLogger.Infof("shutting down")
}
