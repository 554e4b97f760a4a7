package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/ops"
	"main/internal/schema"
)

// watch subscribes to every symbol's quote-feed endpoint and keeps printing
// the latest quotes. It runs as its own process: the deterministic channel
// plan is what lets it find the feeds without a discovery step.

type quotePayload struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp int64           `json:"timestamp"`
}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	interval := flag.Duration("interval", time.Second, "Print interval")
	flag.Parse()

	if err := run(*configPath, *interval); err != nil {
		logs.Errorf("watch exited, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string, interval time.Duration) error {
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	var mu sync.Mutex
	latest := make(map[string]quotePayload)

	for i := 0; i < loaded.Registry.SymbolCount(); i++ {
		symbol, ok := loaded.Registry.SymbolAt(i)
		if !ok {
			continue
		}
		addr, err := loaded.Plan.Resolve(symbol.ID, schema.FeedQuote)
		if err != nil {
			return err
		}

		wss := ws.New(ctx, fmt.Sprintf("ws://%s/", addr.Endpoint(loaded.Feeds.Host)))
		if err := wss.Start(ctx); err != nil {
			return errors.Wrap(err, "start wss").With("symbol", symbol.Name)
		}
		defer wss.Close()

		ch, unsubscribe := wss.Subscribe()
		go func(name string, ch <-chan ws.Message, unsubscribe func()) {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-ch:
					if !ok {
						return
					}
					var quote quotePayload
					if err := m.Unmarshal(&quote); err != nil {
						logs.Errorf("unmarshal quote for %s, err: %+v", name, err)
						continue
					}
					mu.Lock()
					latest[name] = quote
					mu.Unlock()
				}
			}
		}(symbol.Name, ch, unsubscribe)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mu.Lock()
			for i := 0; i < loaded.Registry.SymbolCount(); i++ {
				symbol, ok := loaded.Registry.SymbolAt(i)
				if !ok {
					continue
				}
				quote, ok := latest[symbol.Name]
				if !ok {
					continue
				}
				fmt.Printf("'%s': %s / %s (%d)\n", quote.Symbol, quote.Bid.String(), quote.Ask.String(), quote.Timestamp)
			}
			mu.Unlock()
			fmt.Println()
		}
	}
}
