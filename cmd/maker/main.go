package main

import (
	"context"
	"flag"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/executor"
	"main/internal/feed"
	"main/internal/journal"
	"main/internal/mdg"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/strategy"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logs.Errorf("maker exited, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	creds, err := ops.LoadCredentials()
	if err != nil {
		return err
	}
	if creds.APIKey == "" {
		logs.Info("no broker credentials found, running against the paper broker")
	}

	if server := os.Getenv("PYROSCOPE_SERVER"); server != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "maker",
			ServerAddress:   server,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	ticks := bus.NewBoard[model.PriceTick]()
	quotes := bus.NewBoard[model.Quote]()
	reports := bus.NewQueue[executor.Report](1024)

	brk := broker.NewPaper(broker.PaperConfig{AutoFill: true})
	manager := executor.NewManager(loaded.Registry, brk, quotes, reports, metrics, loaded.Executor)
	engine := strategy.NewEngine(loaded.Registry, strategy.HalfSpread(loaded.Strategy.HalfSpread), ticks, quotes, metrics)

	generator, err := mdg.NewGenerator(loaded.Registry, loaded.Publisher.BasePrice, loaded.Publisher.MaxStep, loaded.Publisher.Seed)
	if err != nil {
		return err
	}
	publisher := mdg.NewPublisher(generator, ticks, metrics, loaded.Publisher.Interval)

	supervisorCfg := loaded.Supervisor
	if loaded.Journal != nil {
		db, err := conn.Open(conn.Option{
			Host:     loaded.Journal.Host,
			Port:     loaded.Journal.Port,
			User:     os.Getenv("JOURNAL_DB_USER"),
			Password: os.Getenv("JOURNAL_DB_PASSWORD"),
			Database: loaded.Journal.Database,
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = conn.Close(db)
		}()
		j, err := journal.New(db, loaded.Registry)
		if err != nil {
			return err
		}
		supervisorCfg.ReportHook = func(r executor.Report) {
			if err := j.Record(r); err != nil {
				logs.Errorf("journal write, err: %+v", err)
			}
		}
	}

	// Consumers first: nothing publishes into an unsubscribed topology.
	stages := []pipeline.Stage{
		pipeline.NamedStage("executor", manager.Run),
		pipeline.NamedStage("strategy", engine.Run),
	}
	if loaded.Feeds.ServeGateway {
		gateway := feed.NewGateway(loaded.Plan, loaded.Feeds.Host, ticks, quotes)
		stages = append(stages, pipeline.NamedStage("feed-gateway", gateway.Run))
	}
	stages = append(stages, pipeline.NamedStage("publisher", publisher.Run))

	supervisor := pipeline.NewSupervisor(supervisorCfg, loaded.Registry, reports, metrics, stages...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	if err := supervisor.Run(ctx); err != nil {
		return err
	}
	logs.Info("clean shutdown")
	return nil
}
