// Package main is the kensa CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/cli"
	"github.com/hyperjump/kensa/internal/config"
	"github.com/hyperjump/kensa/internal/harness"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/parity"
	"github.com/hyperjump/kensa/internal/server"
	"github.com/hyperjump/kensa/internal/storage"
	"github.com/hyperjump/kensa/internal/watcher"
	"github.com/hyperjump/kensa/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kensa/config.yaml"

// Exit codes. A failing verdict is distinguishable from an operational error.
const (
	exitError   = 1
	exitVerdict = 2
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "retrieve":
		runRetrieve()
	case "parity":
		runParity()
	case "verify":
		runVerify()
	case "catalog":
		runCatalog()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kensa version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(exitError)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(exitError)
}

func newLogger(debug bool) *zap.Logger {
	logger, err := utils.NewLogger(debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	cfg.Debug = cfg.Debug || *debug
	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("mode", cfg.Retrieval.Mode),
		zap.Bool("debug", cfg.Debug),
	)

	components, err := initializeComponents(cfg, logger, cfg.Retrieval.Mode == string(models.ModeOnline))
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Storage.WatchCatalogsOrDefault() {
		catalogs := components.Catalogs
		invalidate := func(path string) {
			if corpus, ok := catalogs.CorpusForPath(path); ok {
				catalogs.Invalidate(corpus)
			}
		}
		watchSvc := watcher.NewWatcher(cfg.Storage.CatalogDir, invalidate, invalidate,
			watcher.WithExtensions(storage.CatalogExt),
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start catalog watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(components.Engine, components.Catalogs, components.Vectors, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// configPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func configPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty input yields nil.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC 3339)", s)
}

// retrieveFlags are shared by retrieve and verify. Defaults come from the config file.
type retrieveFlags struct {
	configPath *string
	serverURL  *string
	corpus     *string
	alpha      *float64
	k          *int
	mode       *string
	model      *string
	company    *string
	theme      *string
	after      *string
	before     *string
	minLength  *int
	maxLength  *int
	limit      *int
	output     *string
}

func addRetrieveFlags(fs *flag.FlagSet, cfg *config.Config) *retrieveFlags {
	return &retrieveFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		serverURL:  fs.String("server", "", "server URL (empty = run the pipeline in-process)"),
		corpus:     fs.String("corpus", "", "corpus name (catalog file <catalog_dir>/<corpus>.db)"),
		alpha:      fs.Float64("alpha", cfg.Retrieval.DefaultAlpha, "lexical weight in [0,1]; 1 = lexical only"),
		k:          fs.Int("k", cfg.Retrieval.DefaultK, "number of fused results"),
		mode:       fs.String("mode", cfg.Retrieval.Mode, "embedding cache mode: online or replay"),
		model:      fs.String("model", "", "embedding model id (default from config)"),
		company:    fs.String("company", "", "filter: company equals"),
		theme:      fs.String("theme", "", "filter: theme equals"),
		after:      fs.String("after", "", "filter: published at or after (YYYY-MM-DD)"),
		before:     fs.String("before", "", "filter: published before (YYYY-MM-DD)"),
		minLength:  fs.Int("min-length", 0, "filter: minimum text length"),
		maxLength:  fs.Int("max-length", 0, "filter: maximum text length"),
		limit:      fs.Int("limit", cfg.Retrieval.CandidateLimit, "candidate limit"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

func (f *retrieveFlags) request(query string) (models.RetrieveRequest, error) {
	after, err := parseDate(*f.after)
	if err != nil {
		return models.RetrieveRequest{}, err
	}
	before, err := parseDate(*f.before)
	if err != nil {
		return models.RetrieveRequest{}, err
	}
	return models.RetrieveRequest{
		Corpus: *f.corpus,
		Query:  query,
		Filter: models.Filter{
			Company:         *f.company,
			Theme:           *f.theme,
			PublishedAfter:  after,
			PublishedBefore: before,
			MinLength:       *f.minLength,
			MaxLength:       *f.maxLength,
			Limit:           *f.limit,
		},
		Alpha: *f.alpha,
		K:     *f.k,
		Mode:  models.Mode(*f.mode),
		Model: *f.model,
	}, nil
}

// parseRetrieveArgs loads the config named in args (for flag defaults), then parses
// flags and the query.
func parseRetrieveArgs(name string, extra func(*flag.FlagSet)) (*config.Config, *retrieveFlags, string) {
	args := argsReorder(os.Args[2:])
	cfg, _, err := loadConfig(configPathFromArgs(args, defaultConfigPath))
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := addRetrieveFlags(fs, cfg)
	if extra != nil {
		extra(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kensa %s [flags] <query>\n\n", name)
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)
	query := buildQuery(fs.Args())
	if query == "" || *flags.corpus == "" {
		fs.Usage()
		os.Exit(exitError)
	}
	return cfg, flags, query
}

func runRetrieve() {
	var evidence *string
	cfg, flags, query := parseRetrieveArgs("retrieve", func(fs *flag.FlagSet) {
		evidence = fs.String("evidence", "", "comma separated evidence ids that must appear in the top-k")
	})
	format, err := cli.ParseOutputFormat(*flags.output)
	if err != nil {
		fatalf("%v", err)
	}
	req, err := flags.request(query)
	if err != nil {
		fatalf("%v", err)
	}
	evidenceIDs := cli.SplitIDs(*evidence)

	var out cli.RetrieveOutput
	if *flags.serverURL != "" {
		body := map[string]interface{}{
			"corpus": req.Corpus, "query": req.Query, "filter": req.Filter,
			"alpha": req.Alpha, "k": req.K, "mode": req.Mode, "model": req.Model,
		}
		if evidenceIDs != nil {
			body["evidence_ids"] = evidenceIDs
		}
		if err := postJSON(*flags.serverURL+"/api/v1/retrieve", body, &out, http.StatusConflict); err != nil {
			fatalf("Retrieve failed: %v", err)
		}
	} else {
		logger := newLogger(cfg.Debug)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, req.Mode == models.ModeOnline)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close()

		resp, err := components.Engine.Retrieve(context.Background(), req)
		if err != nil {
			components.Close()
			fatalf("Retrieve failed: %v", err)
		}
		out.RetrieveResponse = resp
		if evidenceIDs != nil {
			v := components.Engine.CheckParity(evidenceIDs, resp.TopKIDs())
			out.Parity = &v
		}
	}
	if err := cli.WriteRetrieveResult(os.Stdout, out, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if out.Parity != nil && !out.Parity.SubsetOK {
		os.Exit(exitVerdict)
	}
}

func runParity() {
	fs := flag.NewFlagSet("parity", flag.ExitOnError)
	evidence := fs.String("evidence", "", "comma separated evidence ids")
	topK := fs.String("topk", "", "comma separated fused top-k ids")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fatalf("%v", err)
	}
	v := parity.Validate(cli.SplitIDs(*evidence), cli.SplitIDs(*topK))
	if err := cli.WriteVerdict(os.Stdout, v, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if !v.SubsetOK {
		os.Exit(exitVerdict)
	}
}

func runVerify() {
	var runs *int
	var verifyFlags *flag.FlagSet
	cfg, flags, query := parseRetrieveArgs("verify", func(fs *flag.FlagSet) {
		runs = fs.Int("runs", 0, "number of runs (default from config, at least 3)")
		verifyFlags = fs
	})
	// Verification replays the cache unless -mode is given explicitly.
	if !flagSet(verifyFlags, "mode") {
		*flags.mode = string(models.ModeReplay)
	}
	format, err := cli.ParseOutputFormat(*flags.output)
	if err != nil {
		fatalf("%v", err)
	}
	req, err := flags.request(query)
	if err != nil {
		fatalf("%v", err)
	}
	n := *runs
	if n == 0 {
		n = cfg.Harness.Runs
	}

	var report *harness.Report
	if *flags.serverURL != "" {
		body := map[string]interface{}{
			"corpus": req.Corpus, "query": req.Query, "filter": req.Filter,
			"alpha": req.Alpha, "k": req.K, "mode": req.Mode, "model": req.Model, "runs": n,
		}
		report = &harness.Report{}
		if err := postJSON(*flags.serverURL+"/api/v1/verify", body, report, http.StatusConflict); err != nil {
			fatalf("Verify failed: %v", err)
		}
	} else {
		logger := newLogger(cfg.Debug)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, req.Mode == models.ModeOnline)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close()
		report, err = harness.New(components.Engine, harness.WithLogger(logger)).Verify(context.Background(), req, n)
		if err != nil {
			components.Close()
			fatalf("Verify failed: %v", err)
		}
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if !report.Deterministic {
		os.Exit(exitVerdict)
	}
}

// flagSet reports whether name was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func runCatalog() {
	if len(os.Args) < 3 || os.Args[2] != "load" {
		fmt.Println("Usage: kensa catalog load [flags] <file.jsonl>")
		os.Exit(exitError)
	}
	fs := flag.NewFlagSet("catalog load", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	corpus := fs.String("corpus", "", "corpus name")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	if *corpus == "" || fs.NArg() != 1 {
		fmt.Println("Usage: kensa catalog load -corpus <name> <file.jsonl>")
		os.Exit(exitError)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fatalf("Failed to open %s: %v", fs.Arg(0), err)
	}
	defer f.Close()
	docs, err := storage.ReadJSONLines(f)
	if err != nil {
		fatalf("Failed to read documents: %v", err)
	}
	reg := storage.NewRegistry(cfg.Storage.CatalogDir)
	if _, ok := reg.CorpusForPath(reg.PathFor(*corpus)); !ok {
		fatalf("Invalid corpus name %q", *corpus)
	}
	if err := storage.WriteCatalog(context.Background(), reg.PathFor(*corpus), docs); err != nil {
		fatalf("Failed to write catalog: %v", err)
	}
	fmt.Printf("Loaded %d documents into %s\n", len(docs), reg.PathFor(*corpus))
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Corpora []struct {
		Name      string `json:"name"`
		Documents int64  `json:"documents"`
		Error     string `json:"error,omitempty"`
	} `json:"corpora"`
	CachedVectors  int                    `json:"cached_vectors"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local files)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fatalf("%v", err)
	}
	var status statusResponse
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fatalf("Failed to load config: %v", err)
		}
		status, err = localStatus(cfg)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	}

	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
		return
	}
	fmt.Printf("Corpora: %d\n", len(status.Corpora))
	for _, c := range status.Corpora {
		if c.Error != "" {
			fmt.Printf("  %-20s unavailable: %s\n", c.Name, c.Error)
			continue
		}
		fmt.Printf("  %-20s %d documents\n", c.Name, c.Documents)
	}
	fmt.Printf("Cached vectors: %d\n", status.CachedVectors)
	fmt.Printf("Disk usage: %.1f MiB\n", float64(status.DiskUsageBytes)/(1<<20))
}

func localStatus(cfg *config.Config) (statusResponse, error) {
	var status statusResponse
	logger := zap.NewNop()
	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		return status, err
	}
	defer components.Close()

	ctx := context.Background()
	names, err := components.Catalogs.Corpora()
	if err != nil {
		return status, err
	}
	for _, name := range names {
		entry := struct {
			Name      string `json:"name"`
			Documents int64  `json:"documents"`
			Error     string `json:"error,omitempty"`
		}{Name: name}
		err := components.Catalogs.View(ctx, name, func(c storage.Catalog) error {
			n, err := c.CountDocuments(ctx)
			entry.Documents = n
			return err
		})
		if err != nil {
			entry.Error = err.Error()
		}
		status.Corpora = append(status.Corpora, entry)
	}
	status.CachedVectors = components.Vectors.Len()
	status.DiskUsageBytes, err = storage.DiskUsageBytes(cfg.Storage.CatalogDir, cfg.Storage.VectorCachePath, cfg.Storage.LedgerPath)
	return status, err
}

// postJSON posts body and decodes the response into out. Status 200 and any of
// alsoOK are decoded; other statuses become errors carrying the server message.
func postJSON(url string, body, out interface{}, alsoOK ...int) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out, alsoOK...)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}, alsoOK ...int) error {
	ok := resp.StatusCode == http.StatusOK
	for _, code := range alsoOK {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`kensa - deterministic hybrid retrieval with evidence parity

Usage:
  kensa server [flags]                      Start the HTTP server
  kensa retrieve [flags] <query>            Run the pipeline and print the fused top-k
  kensa parity -evidence a,b -topk x,y      Check evidence ids against a top-k
  kensa verify [flags] <query>              Re-run the pipeline and compare outputs
  kensa catalog load -corpus <name> <file>  Build a catalog from a JSON lines file
  kensa status [flags]                      Show corpora, cache and disk usage
  kensa version                             Show version
  kensa help                                Show this help

Retrieve/Verify Flags:
  --config string    Config file path (default: /usr/local/etc/kensa/config.yaml)
  --server string    Server URL; empty runs the pipeline in-process
  --corpus string    Corpus name (required)
  --alpha float      Lexical weight in [0,1] (default from config)
  --k int            Number of fused results (default from config)
  --mode string      online or replay (default from config)
  --company, --theme, --after, --before, --min-length, --max-length, --limit
                     Structured prefilter
  --evidence string  (retrieve) Evidence ids that must appear in the top-k
  --runs int         (verify) Number of runs, at least 3; verify defaults to replay mode
  --output string    text or json

Exit status is 2 when a parity check fails or verify finds divergent runs.

Examples:
  kensa catalog load -corpus esg reports.jsonl
  kensa retrieve -corpus esg -mode online "scope 1 emissions"
  kensa retrieve -corpus esg -evidence doc-12,doc-40 "scope 1 emissions"
  kensa verify -corpus esg -mode replay -output json "scope 1 emissions"
  kensa status`)
}
