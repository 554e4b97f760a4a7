package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/schema"
)

const subscriberBuffer = 8

// Gateway exposes every channel address over websocket for out-of-process
// subscribers. It is itself just another bus subscriber: the in-process
// pipeline never waits for a gateway client.
type Gateway struct {
	plan   *schema.ChannelPlan
	host   string
	ticks  *bus.Board[model.PriceTick]
	quotes *bus.Board[model.Quote]

	upgrader websocket.Upgrader
}

// NewGateway creates a gateway serving the plan's endpoints on host.
func NewGateway(plan *schema.ChannelPlan, host string, ticks *bus.Board[model.PriceTick], quotes *bus.Board[model.Quote]) *Gateway {
	return &Gateway{
		plan:     plan,
		host:     host,
		ticks:    ticks,
		quotes:   quotes,
		upgrader: websocket.Upgrader{},
	}
}

// Run binds one listener per channel address and blocks until the context
// is canceled and all listeners are closed.
func (g *Gateway) Run(ctx context.Context) error {
	registry := g.plan.Registry()
	servers := make([]*http.Server, 0, 2*registry.SymbolCount())
	var wg sync.WaitGroup

	for _, addr := range g.plan.Addresses() {
		symbol, ok := registry.Symbol(addr.SymbolID)
		if !ok {
			continue
		}
		h := newHub()
		wg.Add(1)
		go func(addr schema.ChannelAddress, symbol schema.Symbol, h *hub) {
			defer wg.Done()
			g.pump(ctx, addr, symbol, h)
		}(addr, symbol, h)

		mux := http.NewServeMux()
		mux.HandleFunc("/", g.serveFeed(h))
		srv := &http.Server{Addr: addr.Endpoint(g.host), Handler: mux}
		servers = append(servers, srv)
		wg.Add(1)
		go func(srv *http.Server, addr schema.ChannelAddress) {
			defer wg.Done()
			logs.Infof("feed %s for %s on %s", addr.Kind, symbol.Name, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("feed listener %s, err: %+v", srv.Addr, err)
			}
		}(srv, addr)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return ctx.Err()
}

// pump moves one feed's bus messages into its hub.
func (g *Gateway) pump(ctx context.Context, addr schema.ChannelAddress, symbol schema.Symbol, h *hub) {
	switch addr.Kind {
	case schema.FeedTick:
		inbox := g.ticks.Subscribe(symbol.ID)
		for {
			tick, err := inbox.Take(ctx)
			if err != nil {
				return
			}
			h.broadcast(encodeTick(symbol, tick))
		}
	case schema.FeedQuote:
		inbox := g.quotes.Subscribe(symbol.ID)
		for {
			quote, err := inbox.Take(ctx)
			if err != nil {
				return
			}
			h.broadcast(encodeQuote(symbol, quote))
		}
	}
}

func (g *Gateway) serveFeed(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := h.subscribe(subscriberBuffer)
		defer h.unsubscribe(sub)
		defer conn.Close()

		// Reader only detects the client going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unsubscribe(sub)
					return
				}
			}
		}()

		for frame := range sub.ch {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func encodeTick(symbol schema.Symbol, tick model.PriceTick) []byte {
	frame, _ := json.Marshal(TickMessage{
		Symbol:    symbol.Name,
		Price:     tick.Price.String(int(symbol.Scale.PriceScale)),
		Timestamp: tick.TsNano / int64(time.Millisecond),
	})
	return frame
}

func encodeQuote(symbol schema.Symbol, quote model.Quote) []byte {
	frame, _ := json.Marshal(QuoteMessage{
		Symbol:    symbol.Name,
		Bid:       quote.Bid.String(int(symbol.Scale.PriceScale)),
		Ask:       quote.Ask.String(int(symbol.Scale.PriceScale)),
		Timestamp: quote.TsNano / int64(time.Millisecond),
	})
	return frame
}
