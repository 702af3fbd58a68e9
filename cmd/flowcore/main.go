// Command flowcore is the engine's process entrypoint: it loads the
// process configuration, compiles every PDL/MDL source file, builds the
// dispatch table and sink runtimes the configuration names, then starts
// the concurrency harness, configured sources, and the HTTP operational
// surface until terminated. Configuration is loaded from a file then
// layered with environment variable overrides before any component is
// constructed, so a bad config fails fast with one combined error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-labs/flowcore/internal/config"
	"github.com/ssw-labs/flowcore/internal/dispatch"
	"github.com/ssw-labs/flowcore/internal/harness"
	"github.com/ssw-labs/flowcore/internal/httpapi"
	"github.com/ssw-labs/flowcore/internal/reload"
	"github.com/ssw-labs/flowcore/internal/sinkrt"
	"github.com/ssw-labs/flowcore/internal/sinks"
	"github.com/ssw-labs/flowcore/internal/sources"
	"github.com/ssw-labs/flowcore/internal/tracing"
	"github.com/ssw-labs/flowcore/pkg/lookup"
	"github.com/ssw-labs/flowcore/pkg/mdl"
	"github.com/ssw-labs/flowcore/pkg/pdl"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	var configFile string
	if len(os.Args) > 1 && strings.HasPrefix(os.Args[1], "-config=") {
		configFile = strings.TrimPrefix(os.Args[1], "-config=")
	} else if envFile := os.Getenv("FLOWCORE_CONFIG_FILE"); envFile != "" {
		configFile = envFile
	} else {
		configFile = "/etc/flowcore/config.yaml"
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("flowcore exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	rules, mdlModels, err := compileRules(cfg.Rules)
	if err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"pdl_rules": len(rules.Rules),
		"models":    len(mdlModels),
	}).Info("rule compilation complete")

	store, err := buildLookupStore(cfg.Lookup, logger)
	if err != nil {
		return fmt.Errorf("building lookup store: %w", err)
	}

	sinkRuntimes, closers, err := buildSinks(cfg.Sinks, logger)
	if err != nil {
		return fmt.Errorf("building sinks: %w", err)
	}
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	table, err := buildDispatchTable(mdlModels, cfg.Groups, store)
	if err != nil {
		return fmt.Errorf("building dispatch table: %w", err)
	}

	missSink := dispatch.NewMissSink(cfg.Miss, logger)
	missSink.Start()
	defer missSink.Stop()

	router := dispatch.NewRouter(table, logger, missSink)

	h := harness.New(cfg.Harness, rules, router, sinkRuntimes, logger)
	h.Start()

	watcher, err := reload.New(cfg.Reload, watchedFiles(cfg.Rules), func() (*pdl.Compiled, *dispatch.Table, error) {
		r, ms, err := compileRules(cfg.Rules)
		if err != nil {
			return nil, nil, err
		}
		t, err := buildDispatchTable(ms, cfg.Groups, store)
		if err != nil {
			return nil, nil, err
		}
		return r, t, nil
	}, h, missSink, logger)
	if err != nil {
		return fmt.Errorf("building rule watcher: %w", err)
	}
	watcher.Start()
	defer watcher.Stop()

	tracerMgr, err := tracing.NewManager(cfg.Tracing, nil, logger)
	if err != nil {
		return fmt.Errorf("building tracer: %w", err)
	}

	srv := httpapi.New(cfg.HTTP, h, tracerMgr.Tracer(), cfg.App.Version, logger)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.WithError(err).Error("http server stopped")
		}
	}()

	runningSources, err := startSources(cfg.Sources, h, logger)
	if err != nil {
		return fmt.Errorf("starting sources: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	for _, s := range runningSources {
		if err := s.Stop(); err != nil {
			logger.WithError(err).Warn("source stop failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Harness.DrainTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown failed")
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("harness shutdown reported an error")
	}
	_ = tracerMgr.Shutdown(shutdownCtx)

	logger.Info("flowcore stopped")
	return nil
}

// watchedFiles concatenates the PDL and MDL source paths a reload.Watcher
// should follow for changes.
func watchedFiles(rc config.RulesConfig) []string {
	files := make([]string, 0, len(rc.PDLFiles)+len(rc.MDLFiles))
	files = append(files, rc.PDLFiles...)
	files = append(files, rc.MDLFiles...)
	return files
}

// compiledModel wraps one compiled MDL model; its evaluator is built later,
// in buildDispatchTable.
type compiledModel struct {
	compiled *mdl.Compiled
}

// compileRules concatenates every configured PDL file into one document
// (the grammar is "document := package+", so concatenation is valid) and
// compiles every configured MDL file independently, one model per file.
func compileRules(rc config.RulesConfig) (*pdl.Compiled, []compiledModel, error) {
	var pdlSrc strings.Builder
	for _, path := range rc.PDLFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading pdl file %s: %w", path, err)
		}
		pdlSrc.Write(b)
		pdlSrc.WriteByte('\n')
	}

	rules, diags, err := pdl.Compile(pdlSrc.String())
	if err != nil {
		return nil, nil, fmt.Errorf("compiling pdl source: %w", err)
	}
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "pdl diagnostic [%s] %s (%s): %s\n", d.Kind, d.RulePath, d.Location, d.Message)
	}

	var models []compiledModel
	for _, path := range rc.MDLFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading mdl file %s: %w", path, err)
		}
		c, err := mdl.Compile(string(b))
		if err != nil {
			return nil, nil, fmt.Errorf("compiling mdl file %s: %w", path, err)
		}
		models = append(models, compiledModel{compiled: c})
	}

	return rules, models, nil
}

// buildLookupStore returns nil when no lookup backend is configured:
// mdl.NewEvaluator treats a nil store as "every select_expr resolves to
// its default body", so a missing row resolves to Ignore rather than
// failing a model that has no select_expr statements.
func buildLookupStore(lc lookup.RedisConfig, logger *logrus.Logger) (mdl.LookupStore, error) {
	if len(lc.Addrs) == 0 {
		return nil, nil
	}
	return lookup.NewRedisStore(lc, logger)
}

// buildDispatchTable registers every compiled, enabled model under its
// rule pattern, resolving the SinkGroupConfig entries whose rule_pattern
// matches that model's pattern ("" or "*" means every model) into
// dispatch.SinkGroup bindings.
func buildDispatchTable(models []compiledModel, groups []config.SinkGroupConfig, store mdl.LookupStore) (*dispatch.Table, error) {
	table := dispatch.NewTable()
	for _, cm := range models {
		if !cm.compiled.Model.Enable {
			continue
		}
		var bound []dispatch.SinkGroup
		for _, g := range groups {
			if g.RulePattern == "" || g.RulePattern == "*" || g.RulePattern == cm.compiled.Model.RulePattern {
				bound = append(bound, dispatch.SinkGroup{Name: g.Name, Sinks: g.Sinks, OML: g.OML})
			}
		}
		evaluator := mdl.NewEvaluator(cm.compiled, store)
		if err := table.Add(cm.compiled.Model.RulePattern, dispatch.Binding{
			Model:     cm.compiled,
			Evaluator: evaluator,
			Groups:    bound,
		}); err != nil {
			return nil, err
		}
	}
	return table, nil
}

type sinkCloser func() error

// buildSinks resolves every configured sink's transport kind into a
// concrete sinks.*Transport and wraps it in a sinkrt.Runtime.
func buildSinks(sinkCfgs map[string]config.SinkConfig, logger *logrus.Logger) (map[string]*sinkrt.Runtime, []sinkCloser, error) {
	runtimes := make(map[string]*sinkrt.Runtime, len(sinkCfgs))
	var closers []sinkCloser

	for name, sc := range sinkCfgs {
		rtCfg := sc.Runtime
		rtCfg.Name = name

		var transport sinkrt.Transport
		switch sc.Transport {
		case "file":
			var fc sinks.FileConfig
			if err := sc.DecodeTransport(&fc); err != nil {
				return nil, nil, fmt.Errorf("sink %s: %w", name, err)
			}
			ft, err := sinks.NewFileTransport(fc, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("sink %s: %w", name, err)
			}
			transport = ft
			closers = append(closers, ft.Close)
		case "http":
			var hc sinks.HTTPConfig
			if err := sc.DecodeTransport(&hc); err != nil {
				return nil, nil, fmt.Errorf("sink %s: %w", name, err)
			}
			ht, err := sinks.NewHTTPTransport(hc, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("sink %s: %w", name, err)
			}
			transport = ht
		case "kafka":
			var kc sinks.KafkaConfig
			if err := sc.DecodeTransport(&kc); err != nil {
				return nil, nil, fmt.Errorf("sink %s: %w", name, err)
			}
			kt, err := sinks.NewKafkaTransport(kc, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("sink %s: %w", name, err)
			}
			transport = kt
			closers = append(closers, kt.Close)
		default:
			return nil, nil, fmt.Errorf("sink %s: unknown transport %q", name, sc.Transport)
		}

		runtimes[name] = sinkrt.NewRuntime(rtCfg, transport, logger)
	}
	return runtimes, closers, nil
}

// startSources launches every configured file and container source,
// returning the handles needed to stop them on shutdown.
func startSources(sc config.SourcesConfig, h *harness.Harness, logger *logrus.Logger) ([]stoppable, error) {
	var started []stoppable
	for _, fc := range sc.Files {
		src, err := sources.NewFileSource(fc, h, logger)
		if err != nil {
			return started, fmt.Errorf("file source %s: %w", fc.RuleID, err)
		}
		if err := src.Start(context.Background()); err != nil {
			return started, fmt.Errorf("file source %s: %w", fc.RuleID, err)
		}
		started = append(started, src)
	}
	for _, cc := range sc.Containers {
		src, err := sources.NewContainerSource(cc, h, logger)
		if err != nil {
			return started, fmt.Errorf("container source %s: %w", cc.RuleID, err)
		}
		if err := src.Start(context.Background()); err != nil {
			return started, fmt.Errorf("container source %s: %w", cc.RuleID, err)
		}
		started = append(started, src)
	}
	return started, nil
}

type stoppable interface {
	Stop() error
}
