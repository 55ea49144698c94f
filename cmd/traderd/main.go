// traderd is the market-signal trading daemon. It runs the tick pipeline
// against the configured venues, serves a status API and exposes
// Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/config"
	"github.com/phenomenon0/edgetrader/pkg/feed"
	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/store"
	"github.com/phenomenon0/edgetrader/pkg/trader/analyzer"
	"github.com/phenomenon0/edgetrader/pkg/trader/arb"
	"github.com/phenomenon0/edgetrader/pkg/trader/audit"
	"github.com/phenomenon0/edgetrader/pkg/trader/calibration"
	"github.com/phenomenon0/edgetrader/pkg/trader/executor"
	"github.com/phenomenon0/edgetrader/pkg/trader/ledger"
	"github.com/phenomenon0/edgetrader/pkg/trader/market"
	"github.com/phenomenon0/edgetrader/pkg/trader/metrics"
	"github.com/phenomenon0/edgetrader/pkg/trader/orchestrator"
	"github.com/phenomenon0/edgetrader/pkg/trader/policy"
	"github.com/phenomenon0/edgetrader/pkg/trader/webhook"
	"github.com/phenomenon0/edgetrader/pkg/venue"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration")
	httpAddr   = flag.String("http", "", "HTTP address for the status API (overrides config)")
	dryRun     = flag.Bool("dry-run", true, "Book simulated picks without sending venue orders")
	predFile   = flag.String("predictions", "predictions.json", "JSON file of model predictions, re-read each tick")
	verbose    = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Errorf("load config: %v", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	cfg.DryRun = cfg.DryRun || *dryRun
	logging.Init(cfg.Logging)

	logging.Infof("starting traderd (dry_run=%v, portfolio=%s)", cfg.DryRun, cfg.Portfolio)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	app, err := newApp(ctx, cfg)
	if err != nil {
		logging.Errorf("initialize: %v", err)
		os.Exit(1)
	}
	defer app.close()

	go app.serveHTTP(cfg.HTTPAddr)

	if err := app.orch.Start(ctx); err != nil {
		logging.Errorf("start orchestrator: %v", err)
		os.Exit(1)
	}
	logging.Infof("traderd running on %s", cfg.HTTPAddr)

	<-sigCh
	logging.Infof("shutting down")
	app.orch.Stop()
	cancel()

	stats := app.ledger.Stats(cfg.Portfolio)
	logging.Infof("final stats: settled=%d win_rate=%.1f%% pnl=%s",
		stats.Settled, stats.WinRate*100, stats.TotalPnL)
}

type app struct {
	cfg      config.Config
	db       *store.Badger
	ledger   *ledger.Ledger
	audit    *audit.Log
	gate     *calibration.Gate
	webhooks *webhook.Dispatcher
	exec     *executor.Executor
	orch     *orchestrator.Orchestrator
	feeds    []*feed.Client
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := store.OpenBadger(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.db = db

	a.ledger = ledger.New(db)
	if err := a.ledger.Load(); err != nil {
		return nil, err
	}

	a.audit = audit.NewLog(0)
	a.gate = calibration.NewGate(cfg.Calibration.BrierCeiling, cfg.Calibration.Window)
	a.webhooks = webhook.NewDispatcher(cfg.Webhooks)
	a.ledger.AddSink(a.audit)
	a.ledger.AddSink(a.webhooks)

	limits := policy.NewEngine(cfg.Limits)

	var venueClient *venue.Client
	var sources []orchestrator.QuoteSource
	for _, vc := range cfg.Venues {
		s, err := vc.Signer()
		if err != nil {
			if cfg.DryRun {
				logging.Warnf("venue %s: %v (continuing in dry-run without signing)", vc.Name, err)
			} else {
				return nil, err
			}
		}
		client := venue.New(vc.Config, s)
		if venueClient == nil {
			venueClient = client
		}
		if vc.Feed.URL != "" {
			f := feed.NewClient(vc.Feed)
			if err := f.Start(ctx); err != nil {
				logging.Warnf("venue %s feed: %v (will reconnect)", vc.Name, err)
			}
			a.feeds = append(a.feeds, f)
			sources = append(sources, f)
		}
	}

	a.exec = executor.New(executor.Config{
		Portfolio: cfg.Portfolio,
		DryRun:    cfg.DryRun,
	}, venueClient, a.ledger, limits, a.gate, a.audit)
	a.exec.AddSink(a.audit)
	a.exec.AddSink(a.webhooks)

	var quotesA, quotesB orchestrator.QuoteSource
	if len(sources) > 0 {
		quotesA = sources[0]
	} else {
		quotesA = staticQuotes{}
	}
	if len(sources) > 1 {
		quotesB = sources[1]
	}

	a.orch = orchestrator.New(orchestrator.Config{
		TickInterval: cfg.TickInterval,
		ArbConfig:    cfg.Arbitrage,
	}, quotesA, quotesB, &filePredictions{path: *predFile}, analyzer.New(cfg.Analyzer), a.exec, a.audit)
	a.orch.AddSink(a.audit)
	a.orch.AddSink(a.webhooks)

	a.orch.OnSignal(func(sig *analyzer.Signal) {
		if sig.Actionable {
			logging.Infof("[signal] %s %s stake=%s edge=%.1fpts tier=%s",
				sig.ContractID, sig.Side, sig.Stake, sig.EdgePoints, sig.Tier)
		}
	})
	a.orch.OnOpportunity(func(opp arb.Opportunity) {
		logging.Infof("[arb] %s / %s profit=%s tier=%s",
			opp.YesQuote.ContractID, opp.NoQuote.ContractID, opp.ProfitFraction, opp.Tier)
	})
	a.orch.OnError(func(err error) {
		logging.Errorf("[pipeline] %v", err)
	})
	a.orch.OnStage(func(res orchestrator.StageResult) {
		metrics.TrailingBrier.Set(a.gate.TrailingBrier())
		if !res.Success {
			logging.Warnf("[stage:%s] failed: %s", res.Stage, res.Error)
		} else {
			logging.Debugf("[stage:%s] count=%d in %s", res.Stage, res.Count, res.Duration)
		}
	})

	return a, nil
}

func (a *app) close() {
	for _, f := range a.feeds {
		f.Close()
	}
	a.webhooks.Close()
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) serveHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/picks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.ledger.Picks(a.cfg.Portfolio))
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.ledger.Stats(a.cfg.Portfolio))
	})
	mux.HandleFunc("/api/audit", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.audit.Query(audit.Filter{
			Action:        r.URL.Query().Get("action"),
			CorrelationID: r.URL.Query().Get("correlation_id"),
			Status:        r.URL.Query().Get("status"),
			Limit:         200,
		}))
	})
	mux.HandleFunc("/api/webhooks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.webhooks.Subscriptions())
	})
	mux.HandleFunc("/api/settle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			PickID string          `json:"pick_id"`
			Won    bool            `json:"won"`
			PnL    decimal.Decimal `json:"pnl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.exec.RecordSettlement(req.PickID, req.Won, req.PnL); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Errorf("http server: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("encode response: %v", err)
	}
}

// filePredictions re-reads a JSON file of predictions each tick so an
// external model process can drop fresh output without restarting the
// daemon. The file holds a JSON array of predictions.
type filePredictions struct {
	path string
}

func (f *filePredictions) Predictions(_ context.Context) (map[string]analyzer.Prediction, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]analyzer.Prediction{}, nil
		}
		return nil, err
	}
	var preds []analyzer.Prediction
	if err := json.Unmarshal(data, &preds); err != nil {
		return nil, err
	}
	out := make(map[string]analyzer.Prediction, len(preds))
	for _, p := range preds {
		out[p.ContractID] = p
	}
	return out, nil
}

// staticQuotes is the no-feed fallback: an empty quote source that keeps
// the pipeline ticking until a feed is configured.
type staticQuotes struct{}

func (staticQuotes) Quotes(_ context.Context) ([]market.Quote, error) { return nil, nil }
