// Command damcache inspects and maintains a cache file offline.
//
//	damcache [-path file | -config cache.yaml] stats
//	damcache [-path file | -config cache.yaml] inspect [-limit n]
//	damcache [-path file | -config cache.yaml] preload [-max n]
//	damcache [-path file | -config cache.yaml] compact
//
// Without -path and -config the path is resolved like the cache does it (DAM_CACHE env, then the temp dir default).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
	"github.com/Borislavv/go-dam-cache/internal/cache/db"
	"github.com/Borislavv/go-dam-cache/internal/preload"
	"github.com/Borislavv/go-dam-cache/internal/shared/bytes"
	"github.com/Borislavv/go-dam-cache/internal/store"
	"github.com/Borislavv/go-dam-cache/model"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Str("service", "damcache").Logger()

	fs := flag.NewFlagSet("damcache", flag.ExitOnError)
	path := fs.String("path", "", "cache file or directory")
	cfgPath := fs.String("config", "", "cache YAML config, used for the file path")
	verbose := fs.Bool("v", false, "debug logs")
	_ = fs.Parse(os.Args[1:])

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger = logger.Level(level)

	if fs.NArg() == 0 {
		fs.Usage()
		fmt.Fprintln(os.Stderr, "commands: stats, inspect, preload, compact")
		os.Exit(2)
	}

	file, err := resolve(*path, *cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve cache file")
	}

	cmd, args := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "stats":
		err = stats(file, logger)
	case "inspect":
		err = inspect(file, args, logger)
	case "preload":
		err = simulatePreload(file, args, logger)
	case "compact":
		err = compact(file, logger)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("file", file).Str("command", cmd).Msg("failed")
	}
}

func resolve(path, cfgPath string) (string, error) {
	if path != "" {
		return config.ResolvePath(path), nil
	}
	if cfgPath != "" {
		cfg, err := config.LoadConfig(cfgPath)
		if err != nil {
			return "", err
		}
		if !cfg.Persistence.Enabled() {
			return "", fmt.Errorf("persistence is disabled in %s", cfgPath)
		}
		return cfg.Persistence.ResolvedPath, nil
	}
	return config.ResolvePath(""), nil
}

func stats(file string, logger zerolog.Logger) error {
	st, err := store.Open(file, store.WithReadOnly(), store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer st.Close()

	perType := map[string]int{}
	var malformed, unreadable int
	for rec, err := range st.Records() {
		if err != nil {
			unreadable++
			continue
		}
		key, err := model.ParseKey(rec.Key)
		if err != nil {
			malformed++
			continue
		}
		perType[key.Type()]++
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "file\t%s\n", st.Path())
	fmt.Fprintf(w, "records\t%d\n", st.Len())
	fmt.Fprintf(w, "size\t%s\n", bytes.FmtMem(st.Size()))
	fmt.Fprintf(w, "garbage\t%s\n", bytes.FmtMem(st.Garbage()))
	fmt.Fprintf(w, "malformed keys\t%d\n", malformed)
	fmt.Fprintf(w, "unreadable\t%d\n", unreadable)
	for typ, n := range perType {
		fmt.Fprintf(w, "  %s\t%d\n", typ, n)
	}
	return w.Flush()
}

func inspect(file string, args []string, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	limit := fs.Int("limit", 50, "records to print, 0 for all")
	_ = fs.Parse(args)

	st, err := store.Open(file, store.WithReadOnly(), store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer st.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tBYTES")
	n := 0
	for rec, err := range st.Records() {
		if *limit > 0 && n >= *limit {
			break
		}
		n++
		if err != nil {
			fmt.Fprintf(w, "<unreadable>\t%v\n", err)
			continue
		}
		key, err := model.ParseKey(rec.Key)
		if err != nil {
			fmt.Fprintf(w, "<malformed %x>\t%d\n", rec.Key, len(rec.Value))
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", key, len(rec.Value))
	}
	return w.Flush()
}

// simulatePreload runs a bulk preload into a throwaway memory tier and reports what a cache
// with the given bound would keep.
func simulatePreload(file string, args []string, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("preload", flag.ExitOnError)
	maxSize := fs.Int("max", config.DefaultMaxSize, "memory tier bound")
	batch := fs.Int("batch", config.DefaultPreloadBatchSize, "entries per batch insert")
	_ = fs.Parse(args)

	st, err := store.Open(file, store.WithReadOnly(), store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer st.Close()

	mem := db.NewLRU(*maxSize)
	res := preload.Bulk(context.Background(), st, mem, *batch, logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "loaded\t%d\n", res.Loaded)
	fmt.Fprintf(w, "skipped\t%d\n", res.Skipped)
	fmt.Fprintf(w, "failed\t%d\n", res.Failed)
	fmt.Fprintf(w, "evicted\t%d\n", res.Evicted)
	fmt.Fprintf(w, "elapsed\t%s\n", res.Elapsed)
	fmt.Fprintf(w, "resident\t%d / %d\n", mem.Len(), mem.MaxSize())
	return w.Flush()
}

func compact(file string, logger zerolog.Logger) error {
	st, err := store.Open(file, store.WithLogger(logger))
	if err != nil {
		return err
	}
	before := st.Size()
	if err = st.Compact(); err != nil {
		_ = st.Close()
		return err
	}
	after := st.Size()
	if err = st.Close(); err != nil {
		return err
	}
	fmt.Printf("%s: %s -> %s\n", file, bytes.FmtMem(before), bytes.FmtMem(after))
	return nil
}
