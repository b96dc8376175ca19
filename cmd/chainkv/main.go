// Command chainkv runs one node of a chain-replicated (or non-replicated)
// in-memory key/value store.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/distkv/chainkv/internal/chain"
	"github.com/distkv/chainkv/internal/httpapi"
	"github.com/distkv/chainkv/internal/metrics"
	"github.com/distkv/chainkv/internal/solo"
	"github.com/distkv/chainkv/internal/store"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	app             = kingpin.New("chainkv", "A chain-replicated in-memory key/value store node.")
	replicationType = app.Arg("replication_type", "Replication strategy to run.").Required().Enum("none", "chain", "gossip")
	index           = app.Flag("index", "This node's position in PEER_BASE/CLIENT_BASE port assignment.").Default("0").Int()
	loglevel        = app.Flag("loglevel", "Logging verbosity.").Default("info").Enum("warn", "info", "debug")
	connectTo       = app.Flag("connect-to", "Comma-separated peer ids to connect to.").Short('C').Default("").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := buildLogger(*loglevel)

	if *index < 0 {
		log.Fatal("--index must be non-negative")
	}

	connectIDs, err := parseConnectTo(*connectTo)
	if err != nil {
		log.Fatalf("invalid --connect-to: %v", err)
	}

	if err := run(*replicationType, *index, connectIDs, log); err != nil {
		log.Fatal(err)
	}
}

func buildLogger(level string) *logrus.Logger {
	log := logrus.New()
	switch level {
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func parseConnectTo(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("malformed peer id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func run(mode string, idx int, connectTo []int, log *logrus.Logger) error {
	switch mode {
	case "gossip":
		return fmt.Errorf("replication mode %q is reserved but not implemented", mode)
	case "none":
		if idx != 0 || len(connectTo) != 0 {
			return fmt.Errorf("non-replicated mode requires index=0 and no --connect-to peers")
		}
		return runSolo(idx, log)
	case "chain":
		if len(connectTo) > 1 {
			return fmt.Errorf("chain replication accepts at most one --connect-to id, got %d", len(connectTo))
		}
		var predecessor *int
		if len(connectTo) == 1 {
			predecessor = &connectTo[0]
		}
		return runChain(idx, predecessor, log)
	default:
		return fmt.Errorf("unexpected replication type: %s", mode)
	}
}

func runSolo(idx int, log *logrus.Logger) error {
	printBanner("solo", idx, log)
	logic := solo.New()
	return serveHTTP(logic, idx, log)
}

func runChain(idx int, predecessor *int, log *logrus.Logger) error {
	role := "solo link"
	if predecessor != nil {
		role = fmt.Sprintf("chained after node %d", *predecessor)
	}
	printBanner(fmt.Sprintf("chain (%s)", role), idx, log)

	st := store.New()
	m := metrics.New(prometheus.DefaultRegisterer)
	entry := logrus.NewEntry(log)
	c := chain.New(idx, "localhost", st, m, entry)

	if err := c.Start(predecessor); err != nil {
		return fmt.Errorf("starting chain node: %w", err)
	}
	defer c.Close()

	return serveHTTP(c, idx, log)
}

// logicAdapter narrows chain.Chain/solo.Solo down to httpapi.Logic.
type logicAdapter interface {
	Get(key string) (string, bool)
	Put(key, value string)
	GetAll() []store.Entry
}

func serveHTTP(logic logicAdapter, idx int, log *logrus.Logger) error {
	entry := logrus.NewEntry(log)
	server := httpapi.New(logic, prometheus.DefaultGatherer, entry)

	addr := fmt.Sprintf("localhost:%d", chain.ClientBasePort+idx)
	log.Infof("serving HTTP on %s", addr)

	httpServer := &http.Server{Addr: addr, Handler: server}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Info("received shutdown signal")
		_ = httpServer.Close()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func printBanner(mode string, idx int, log *logrus.Logger) {
	banner := color.New(color.FgCyan, color.Bold).Sprintf("chainkv node %d", idx)
	fmt.Fprintf(os.Stdout, "%s — mode: %s\n", banner, mode)
	log.Infof("starting node %d in mode %q", idx, mode)
}
