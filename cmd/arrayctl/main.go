// Command arrayctl evaluates array built-ins against a persistent store.
// It runs one call (-e), a batch file with expected results (-batch), or
// an interactive prompt, and can serve the change feed and metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/crystal-mush/sparsearray/pkg/archive"
	"github.com/crystal-mush/sparsearray/pkg/boltstore"
	"github.com/crystal-mush/sparsearray/pkg/builtins"
	"github.com/crystal-mush/sparsearray/pkg/config"
	"github.com/crystal-mush/sparsearray/pkg/events"
	"github.com/crystal-mush/sparsearray/pkg/feed"
	"github.com/crystal-mush/sparsearray/pkg/metrics"
	"github.com/crystal-mush/sparsearray/pkg/snapshot"
	"github.com/crystal-mush/sparsearray/pkg/sqlstore"
	"github.com/crystal-mush/sparsearray/pkg/validate"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func envInt(envVar string) int64 {
	n, _ := strconv.ParseInt(os.Getenv(envVar), 10, 64)
	return n
}

func main() {
	confFile := flag.String("conf", envDefault("ARRAY_CONF", ""), "Path to config file, .yaml or .conf (env: ARRAY_CONF)")
	expr := flag.String("e", "", "Built-in call to evaluate (non-interactive mode)")
	batch := flag.String("batch", "", "File with calls to evaluate (one per line, optional ' | expected')")
	char := flag.Int64("char", envInt("ARRAY_CHAR"), "Character id for unprefixed and @ names")
	account := flag.Int64("account", envInt("ARRAY_ACCOUNT"), "Account id for # and ## names")
	npc := flag.Int64("npc", 0, "NPC id for . names")
	script := flag.Int64("script", 1, "Script invocation id for .@ names")
	instance := flag.Int64("instance", 0, "Instance id for ' names")
	listen := flag.String("listen", "", "Serve /ws, /metrics and /health on this address, overrides config")
	export := flag.String("export", "", "Write a snapshot of all arrays to this file and exit")
	importPath := flag.String("import", "", "Load a snapshot into the store before running")
	audit := flag.Bool("audit", false, "Audit stored arrays, print the report and exit")
	fix := flag.Bool("fix", false, "With -audit, apply every fixable finding")
	backup := flag.String("backup", "", "With the bolt backend, write a hot backup to this file and exit")
	doArchive := flag.Bool("archive", false, "Write an archive to the configured archive_dir and exit")
	listArchives := flag.Bool("archives", false, "List archives in archive_dir and exit")
	restoreArchive := flag.String("restore-archive", "", "Apply the snapshot from this archive (or \"latest\") before running")
	flag.Parse()

	conf := config.Default()
	if *confFile != "" {
		var err error
		conf, err = config.Load(*confFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}
	if *listen != "" {
		conf.Listen = *listen
	}

	backend, err := openBackend(conf)
	if err != nil {
		log.Fatalf("Error opening %s backend: %v", conf.Backend, err)
	}

	bus := events.NewBus()
	reg := vars.NewRegistry(backend,
		vars.WithBus(bus),
		vars.WithCompaction(conf.CompactionPolicy()),
		vars.WithMaxIndex(conf.MaxIndex),
	)
	defer reg.Close()
	if err := reg.Restore(); err != nil {
		log.Fatalf("Error restoring arrays: %v", err)
	}

	if *backup != "" {
		bs, ok := backend.(*boltstore.Store)
		if !ok {
			log.Fatalf("-backup needs the bolt backend, have %s", conf.Backend)
		}
		if err := bs.Backup(*backup); err != nil {
			log.Fatalf("Backup failed: %v", err)
		}
		return
	}

	if *listArchives {
		list, err := archive.List(conf.ArchiveDir)
		if err != nil {
			log.Fatalf("Error listing archives: %v", err)
		}
		for _, ai := range list {
			fmt.Printf("%s  %s  %d arrays  %d slots  %d bytes\n", ai.Filename, ai.Timestamp, ai.Arrays, ai.Slots, ai.Size)
		}
		return
	}

	if *restoreArchive != "" {
		path := *restoreArchive
		if path == "latest" {
			latest, ok, err := archive.Latest(conf.ArchiveDir)
			if err != nil {
				log.Fatalf("Error listing archives: %v", err)
			}
			if !ok {
				log.Fatalf("No archives in %s", conf.ArchiveDir)
			}
			path = latest.Path
		}
		if _, err := archive.Restore(path, reg); err != nil {
			log.Fatalf("Error restoring archive: %v", err)
		}
	}

	if *doArchive {
		if _, err := archive.Create(archiveParams(conf, *confFile, reg, backend)); err != nil {
			log.Fatalf("Archive failed: %v", err)
		}
		return
	}

	if *importPath != "" {
		doc, err := snapshot.Read(*importPath)
		if err != nil {
			log.Fatalf("Error reading snapshot: %v", err)
		}
		if err := snapshot.Apply(doc, reg); err != nil {
			log.Fatalf("Error importing snapshot: %v", err)
		}
		log.Printf("Imported %d arrays from %s", len(doc.Arrays), *importPath)
	}

	if *export != "" {
		doc, err := snapshot.Capture(reg)
		if err != nil {
			log.Fatalf("Error capturing arrays: %v", err)
		}
		if err := snapshot.Write(*export, doc); err != nil {
			log.Fatalf("Error writing snapshot: %v", err)
		}
		return
	}

	if *audit || conf.AuditOnStart {
		v := validate.New(reg)
		v.Run()
		if *fix {
			for cat := range v.Summary() {
				n, err := v.ApplyAll(cat)
				if err != nil {
					log.Printf("WARNING: fixing %s: %v", cat, err)
				}
				if n > 0 {
					log.Printf("Fixed %d %s findings", n, cat)
				}
			}
		}
		report := validate.GenerateReport(v)
		if *audit {
			if err := report.WriteJSON(os.Stdout); err != nil {
				log.Fatalf("Error writing report: %v", err)
			}
			fmt.Fprint(os.Stderr, report.Summary())
			return
		}
		log.Printf("Audit: %d findings", report.TotalFindings)
	}

	ctx := vars.Context{Char: *char, Account: *account, NPC: *npc, Script: *script, Instance: *instance}
	tbl := builtins.NewTable(reg)

	if *expr != "" {
		result, err := evalLine(tbl, ctx, *expr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "#-1 %v\n", err)
			os.Exit(1)
		}
		fmt.Println(result)
		return
	}

	if *batch != "" {
		f, err := os.Open(*batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening batch file: %v\n", err)
			os.Exit(1)
		}
		pass, fail, err := runBatch(tbl, ctx, f, os.Stdout)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading batch file: %v\n", err)
			os.Exit(1)
		}
		if pass+fail > 0 {
			fmt.Printf("%d passed, %d failed\n", pass, fail)
		}
		if fail > 0 {
			os.Exit(1)
		}
		return
	}

	if conf.Listen != "" {
		serve(conf, *confFile, reg, bus, backend)
		return
	}

	repl(tbl, ctx, os.Stdin, os.Stdout)
	reg.ClearScope(ctx.Ref(vars.ScopeScript))
}

// serve runs the feed and metrics endpoints until SIGINT or SIGTERM.
func serve(conf *config.Conf, confFile string, reg *vars.Registry, bus *events.Bus, backend vars.Backend) {
	m := metrics.New(reg, time.Now())
	bus.SubscribeGlobal(m)

	srv := feed.New(bus, feed.Config{
		Addr:        conf.Listen,
		CORSOrigins: conf.CORSOrigins,
		Metrics:     m.Handler(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if confFile != "" {
		err := config.Watch(ctx, confFile, func(c *config.Conf) {
			reg.Configure(vars.WithCompaction(c.CompactionPolicy()), vars.WithMaxIndex(c.MaxIndex))
			if c.Backend != conf.Backend || c.Listen != conf.Listen {
				log.Printf("WARNING: backend and listen changes take effect on restart")
			}
		})
		if err != nil {
			log.Printf("WARNING: %v", err)
		}
	}

	if conf.ArchiveInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(conf.ArchiveInterval) * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := archive.Create(archiveParams(conf, confFile, reg, backend)); err != nil {
						log.Printf("WARNING: scheduled archive: %v", err)
					}
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.Cleanup()
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Printf("Server stopped")
}

// archiveParams describes an archive of the running store.
func archiveParams(conf *config.Conf, confFile string, reg *vars.Registry, backend vars.Backend) archive.Params {
	p := archive.Params{
		Registry: reg,
		Backend:  conf.Backend,
		ConfPath: confFile,
		Dir:      conf.ArchiveDir,
		Retain:   conf.ArchiveRetain,
	}
	switch b := backend.(type) {
	case *boltstore.Store:
		p.BoltSnapshotFunc = b.Backup
	case *sqlstore.Store:
		p.SQLPath = b.Path()
		p.SQLCheckpointFunc = b.Checkpoint
	}
	return p
}
