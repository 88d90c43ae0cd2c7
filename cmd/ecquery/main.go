package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"runtime"
	"strings"
	"sync"

	"ecgraph/internal/engine"
	"ecgraph/internal/geo"
	"ecgraph/internal/ingest"

	"github.com/spf13/cobra"
)

var (
	fortigateFiles []string
	topologyFile   string
	dbDSN          string
	backendName    string
	workers        int
	logLevel       string
	logFile        string

	querySrc    string
	queryDst    string
	queryAction string
	queriesFile string
	outFile     string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ecquery",
		Short: "Build a forwarding equivalence-class model and answer reachability queries",
		Long: `ecquery ingests router configurations and inter-router topology, builds a
forwarding graph partitioned into equivalence classes, and answers
reachability queries against it without re-simulating every packet.`,
		RunE: run,
	}

	rootCmd.Flags().StringArrayVar(&fortigateFiles, "fortigate", nil, "router=path.cfg pairs of FortiGate-style config files (repeatable)")
	rootCmd.Flags().StringVar(&topologyFile, "topology", "", "Topology file (\"router:iface - router:iface\" lines)")
	rootCmd.Flags().StringVar(&dbDSN, "db", "", "MariaDB DSN to load the full data plane from, instead of --fortigate/--topology")
	rootCmd.Flags().StringVar(&backendName, "backend", "classic", "EC backend: 'classic' (physical split) or 'doc' (difference-of-cubes)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of concurrent query workers in batch mode")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")

	rootCmd.Flags().StringVar(&querySrc, "src", "", "Source router for a single query")
	rootCmd.Flags().StringVar(&queryDst, "dst", "", "Destination router for a single query")
	rootCmd.Flags().StringVar(&queryAction, "action", "accept,drop", "Comma-separated dispositions to search for: accept, deny-in, deny-out, null-route, no-route, drop (any drop disposition)")
	rootCmd.Flags().StringVar(&queriesFile, "queries", "", "CSV file of src,dst,dest_prefix,action queries to run concurrently")
	rootCmd.Flags().StringVar(&outFile, "out", "", "Output CSV file for batch results (default: stdout)")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel, logFile)
	slog.SetDefault(logger)

	backend, err := parseBackend(backendName)
	if err != nil {
		return err
	}

	slog.Info("loading data plane", "backend", backendName)
	dp, err := loadDataPlane()
	if err != nil {
		slog.Error("failed to load data plane", "error", err)
		return err
	}
	slog.Info("data plane loaded", "routers", len(dp.Routers), "topology_edges", len(dp.Topology))

	e, err := engine.New(dp, backend)
	if err != nil {
		slog.Error("failed to construct engine", "error", err)
		return err
	}
	slog.Info("engine constructed")

	if queriesFile != "" {
		return runBatch(e)
	}
	return runSingleQuery(e)
}

func loadDataPlane() (*ingest.DataPlane, error) {
	if dbDSN != "" {
		loader, err := ingest.NewDBLoader(dbDSN)
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		return loader.Load()
	}

	dp := &ingest.DataPlane{}
	for _, spec := range fortigateFiles {
		router, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("--fortigate value %q must be \"router=path\"", spec)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		rc, err := ingest.NewFortiGateParser(router, f).Parse()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		dp.Routers = append(dp.Routers, *rc)
	}

	if topologyFile != "" {
		f, err := os.Open(topologyFile)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", topologyFile, err)
		}
		edges, err := ingest.ParseTopology(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing topology: %w", err)
		}
		dp.Topology = edges
	}
	return dp, nil
}

func parseBackend(name string) (engine.BackendType, error) {
	switch strings.ToLower(name) {
	case "classic", "":
		return engine.DeltaNet, nil
	case "doc":
		return engine.DeltaNetDoC, nil
	default:
		return 0, fmt.Errorf("unknown backend %q (want 'classic' or 'doc')", name)
	}
}

// parseActions turns a comma-separated disposition list into an
// engine.Action bitmask.
func parseActions(s string) (engine.Action, error) {
	var actions engine.Action
	for _, tok := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "accept":
			actions |= engine.ActionAccept
		case "deny", "deny-acl":
			actions |= engine.ActionDropACL
		case "deny-in":
			actions |= engine.ActionDropACLIn
		case "deny-out":
			actions |= engine.ActionDropACLOut
		case "null-route":
			actions |= engine.ActionDropNullRoute
		case "no-route":
			actions |= engine.ActionDropNoRoute
		case "drop":
			actions |= engine.ActionDrop
		default:
			return 0, fmt.Errorf("unknown action %q", tok)
		}
	}
	if actions == 0 {
		return 0, fmt.Errorf("no actions given")
	}
	return actions, nil
}

func destHeaderSpace(prefix string) (geo.HeaderSpace, error) {
	h := geo.NewHeaderSpace()
	if prefix == "" {
		return h, nil
	}
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return h, fmt.Errorf("parsing destination prefix %q: %w", prefix, err)
	}
	h.Restrict(geo.DestIP, geo.PrefixRange(p))
	return h, nil
}

func runSingleQuery(e *engine.Engine) error {
	if querySrc == "" || queryDst == "" {
		return fmt.Errorf("--src and --dst are required for a single query (or use --queries for batch mode)")
	}
	actions, err := parseActions(queryAction)
	if err != nil {
		return err
	}
	h, err := destHeaderSpace("")
	if err != nil {
		return err
	}

	ans := e.Reachable(h, actions, []string{querySrc}, []string{queryDst})
	printAnswer(os.Stdout, querySrc, queryDst, ans)
	return nil
}

func printAnswer(w io.Writer, src, dst string, ans engine.Answer) {
	if !ans.Found {
		fmt.Fprintf(w, "%s -> %s: no witness found for the requested dispositions\n", src, dst)
		return
	}
	fmt.Fprintf(w, "%s -> %s: %s (witness dst=%s", src, dst, ans.Disposition, ans.Header.DestIP)
	if ans.MatchedLine != "" {
		fmt.Fprintf(w, ", matched %s", ans.MatchedLine)
	}
	fmt.Fprintf(w, ")\n")
	for _, hop := range ans.Path {
		fmt.Fprintf(w, "  %s:%s -> %s:%s\n", hop.SrcRouter, hop.SrcIface, hop.DstRouter, hop.DstIface)
	}
}

type batchQuery struct {
	src, dst, destPrefix, action string
}

type batchResult struct {
	query batchQuery
	ans   engine.Answer
	err   error
}

func runBatch(e *engine.Engine) error {
	f, err := os.Open(queriesFile)
	if err != nil {
		return fmt.Errorf("opening queries file: %w", err)
	}
	defer f.Close()

	queries, err := readQueries(f)
	if err != nil {
		return err
	}
	slog.Info("batch queries loaded", "count", len(queries))

	out := os.Stdout
	if outFile != "" {
		created, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer created.Close()
		out = created
	}

	tasks := make(chan batchQuery, workers*4)
	results := make(chan batchResult, workers*4)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for q := range tasks {
				results <- evaluateQuery(e, q)
			}
		}()
	}

	go func() {
		for _, q := range queries {
			tasks <- q
		}
		close(tasks)
	}()

	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		writeResults(out, results)
	}()

	wg.Wait()
	close(results)
	writerWg.Wait()
	return nil
}

func evaluateQuery(e *engine.Engine, q batchQuery) batchResult {
	actions, err := parseActions(q.action)
	if err != nil {
		return batchResult{query: q, err: err}
	}
	h, err := destHeaderSpace(q.destPrefix)
	if err != nil {
		return batchResult{query: q, err: err}
	}
	ans := e.Reachable(h, actions, []string{q.src}, []string{q.dst})
	return batchResult{query: q, ans: ans}
}

func readQueries(r io.Reader) ([]batchQuery, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading queries CSV: %w", err)
	}
	var queries []batchQuery
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(rec[0], "src") {
			continue // header row
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("queries CSV row %d: expected at least src,dst,action columns", i+1)
		}
		q := batchQuery{src: rec[0], dst: rec[1]}
		if len(rec) == 3 {
			q.action = rec[2]
		} else {
			q.destPrefix, q.action = rec[2], rec[3]
		}
		queries = append(queries, q)
	}
	return queries, nil
}

func writeResults(w io.Writer, results <-chan batchResult) {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	writer.Write([]string{"src", "dst", "dest_prefix", "action", "found", "disposition", "witness_dst", "matched_line", "error"})

	for r := range results {
		record := []string{r.query.src, r.query.dst, r.query.destPrefix, r.query.action}
		if r.err != nil {
			record = append(record, "", "", "", "", r.err.Error())
		} else if !r.ans.Found {
			record = append(record, "false", "", "", "", "")
		} else {
			record = append(record, "true", r.ans.Disposition.String(), r.ans.Header.DestIP.String(), r.ans.MatchedLine, "")
		}
		writer.Write(record)
	}
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}
