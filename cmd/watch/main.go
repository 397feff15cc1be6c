// Command watch is a terminal client for a running relay. It subscribes
// to the relay websocket through the ingestion worker, evaluates local
// alert rules and prints batches as they are flushed.
//
// Commands on stdin:
//
//	p | r | q                          pause, resume, quit
//	rules | triggered | clear          inspect state
//	add SYMBOL CONDITION THRESHOLD [SIDE] [LABEL...]
//	rm ID | toggle ID
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/navid-fn/tickrelay/internal/alerts"
	"github.com/navid-fn/tickrelay/internal/drivers/relay"
	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/ingest"
	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/storage"
)

func main() {
	url := flag.String("url", relay.RelayURL, "relay websocket url")
	rulesFile := flag.String("rules", "data/watch-rules.json", "alert rules file")
	maxItems := flag.Int("max-items", ingest.DefaultMaxItems, "trades kept per batch")
	attempts := flag.Int("max-reconnects", 10, "reconnect attempts before giving up, 0 for unbounded")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.NewFileStore(*rulesFile, storage.DefaultKey)
	engine := alerts.NewEngine(store, alerts.LogNotifier{Logger: logger}, logger)
	if err := engine.Load(ctx); err != nil {
		logger.Error("Failed to load rules", "file", *rulesFile, "error", err)
		os.Exit(1)
	}

	worker := ingest.NewWorker(ingest.PrivateOpener(relay.New(), feed.WithLogger(logger)), engine, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	worker.Connect(ingest.ConnectConfig{
		Feed:     feed.Config{URL: *url, MaxReconnectAttempts: *attempts},
		MaxItems: *maxItems,
	})

	go readCommands(os.Stdin, &console{ctx: ctx, worker: worker, engine: engine, out: os.Stdout, quit: stop})

	for {
		select {
		case <-ctx.Done():
			worker.Disconnect()
			<-done
			return
		case st := <-worker.Status():
			printStatus(os.Stdout, st)
		}
	}
}

func printStatus(w io.Writer, st ingest.Status) {
	switch st.Kind {
	case ingest.StatusConnected:
		fmt.Fprintln(w, "● connected")
	case ingest.StatusDisconnected:
		fmt.Fprintln(w, "○ disconnected")
	case ingest.StatusError:
		fmt.Fprintf(w, "! %s\n", st.Reason)
	case ingest.StatusNewMessage:
		if len(st.Trades) == 0 {
			return
		}
		t := st.Trades[0]
		fmt.Fprintf(w, "%d trades, latest %s %s %s @ %s\n",
			len(st.Trades), t.Exchange, t.Pair(), models.FormatQuantity(t.Quantity), models.FormatPrice(t.Price))
	}
}

type console struct {
	ctx    context.Context
	worker *ingest.Worker
	engine *alerts.Engine
	out    io.Writer
	quit   func()
}

func readCommands(in io.Reader, c *console) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if !c.exec(strings.Fields(scanner.Text())) {
			return
		}
	}
	c.quit()
}

// exec runs one command and reports whether to keep reading.
func (c *console) exec(args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch strings.ToLower(args[0]) {
	case "q", "quit":
		c.quit()
		return false
	case "p", "pause":
		c.worker.Pause()
		fmt.Fprintln(c.out, "paused")
	case "r", "resume":
		c.worker.Resume()
		fmt.Fprintln(c.out, "resumed")
	case "rules":
		for _, r := range c.engine.Rules() {
			fmt.Fprintf(c.out, "%s  %-8s %-14s %-10s side=%s active=%t %s\n",
				r.ID, r.Symbol, r.Condition, models.FormatValue(r.Condition, r.Threshold), r.Side, r.Active, r.Label)
		}
	case "triggered":
		for _, a := range c.engine.Triggered() {
			n := alerts.NotificationFor(a)
			fmt.Fprintf(c.out, "%s  %s\n", n.Title, n.Body)
		}
	case "clear":
		c.engine.ClearTriggered()
	case "add":
		c.add(args[1:])
	case "rm":
		c.mutate(args[1:], c.engine.RemoveRule)
	case "toggle":
		c.mutate(args[1:], c.engine.ToggleRule)
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", args[0])
	}
	return true
}

func (c *console) add(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "usage: add SYMBOL CONDITION THRESHOLD [SIDE] [LABEL...]")
		return
	}
	threshold, err := strconv.ParseFloat(args[2], 64)
	if err != nil || math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		fmt.Fprintln(c.out, "threshold must be a finite number greater than zero")
		return
	}
	spec := models.RuleSpec{
		Symbol:    args[0],
		Condition: models.Condition(strings.ToLower(args[1])),
		Threshold: threshold,
		Active:    true,
	}
	if len(args) > 3 {
		spec.Side = models.SideFilter(strings.ToLower(args[3]))
	}
	if len(args) > 4 {
		spec.Label = strings.Join(args[4:], " ")
	}

	rule, err := c.engine.AddRule(c.ctx, spec)
	if err != nil {
		fmt.Fprintf(c.out, "add failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "added %s\n", rule.ID)
}

func (c *console) mutate(args []string, fn func(context.Context, string) (bool, error)) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: rm|toggle ID")
		return
	}
	found, err := fn(c.ctx, args[0])
	switch {
	case err != nil:
		fmt.Fprintf(c.out, "failed: %v\n", err)
	case !found:
		fmt.Fprintf(c.out, "no rule %s\n", args[0])
	default:
		fmt.Fprintln(c.out, "ok")
	}
}
