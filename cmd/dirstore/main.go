// dirstore is a CLI for inspecting and editing dirstore data directories.
//
// Usage:
//
//	dirstore [options] <command> [args]
//
// Options:
//
//	-d, --dir         Base directory of the store (default ".")
//	-c, --config      JSONC config file
//	    --file-lock   Acquire the cross-process lock for writes
//	    --cache       Cache mode: all, off, ttl, lru
//	    --ttl         Entry lifetime with --cache=ttl
//	    --watch       Invalidate cache entries on external file changes
//	    --log-level   Log level: debug, info, warn, error (default "warn")
//
// Commands:
//
//	ls                                  List collections
//	get <collection> [id|key]           Print a collection, record, or entry
//	find <collection> <field=value>...  Query records by field equality
//	insert <collection> <json>          Insert a record
//	set <collection> <key> <json>       Set a map entry
//	rm <collection> <id|key>            Remove a record or entry
//	drop <collection>...                Delete collections
//	stats                               Show cache statistics
//	warm <collection>...|--top n        Preload collections into the cache
//	shell                               Interactive session
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/calvinalkan/dirstore"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "dirstore: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("dirstore", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)

	dir := flags.StringP("dir", "d", ".", "base directory of the store")
	configPath := flags.StringP("config", "c", "", "JSONC config file")
	fileLock := flags.Bool("file-lock", false, "acquire the cross-process lock for writes")
	cacheMode := flags.String("cache", "", "cache mode: all, off, ttl, lru")
	cacheTTL := flags.Duration("ttl", 0, "entry lifetime with --cache=ttl")
	watch := flags.Bool("watch", false, "invalidate cache entries on external file changes")
	logLevel := flags.String("log-level", "warn", "log level: debug, info, warn, error")
	help := flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout)

			return nil
		}

		return err
	}

	if *help || flags.NArg() == 0 {
		printUsage(os.Stdout)

		return nil
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		return err
	}

	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))

	cfg := dirstore.Config{BaseDir: *dir}

	if *configPath != "" {
		cfg, err = dirstore.LoadConfig(*configPath)
		if err != nil {
			return err
		}

		if flags.Changed("dir") || cfg.BaseDir == "" {
			cfg.BaseDir = *dir
		}
	}

	cfg.Logger = logger

	if flags.Changed("file-lock") {
		cfg.FileLock = *fileLock
	}

	if flags.Changed("watch") {
		cfg.Watch = *watch
	}

	if flags.Changed("cache") {
		cfg.Cache.Mode, err = parseMode(*cacheMode)
		if err != nil {
			return err
		}
	}

	if flags.Changed("ttl") {
		cfg.Cache.TTL = *cacheTTL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := dirstore.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cmd := flags.Arg(0)
	rest := flags.Args()[1:]

	switch cmd {
	case "ls":
		return cmdLs(store)
	case "get":
		return cmdGet(ctx, store, rest)
	case "find":
		return cmdFind(ctx, store, rest)
	case "insert":
		return cmdInsert(ctx, store, rest)
	case "set":
		return cmdSet(ctx, store, rest)
	case "rm":
		return cmdRm(ctx, store, rest)
	case "drop":
		return cmdDrop(ctx, store, rest)
	case "stats":
		return cmdStats(store)
	case "warm":
		return cmdWarm(ctx, store, rest)
	case "shell":
		return runShell(ctx, store)
	case "help":
		printUsage(os.Stdout)

		return nil
	default:
		printUsage(os.Stderr)

		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `dirstore - file-backed collection store

Usage: dirstore [options] <command> [args]

Options:
  -d, --dir <dir>      Base directory of the store (default ".")
  -c, --config <file>  JSONC config file
      --file-lock      Acquire the cross-process lock for writes
      --cache <mode>   Cache mode: all, off, ttl, lru
      --ttl <dur>      Entry lifetime with --cache=ttl
      --watch          Invalidate cache entries on external file changes
      --log-level <l>  Log level: debug, info, warn, error (default warn)

Commands:
  ls                                  List collections
  get <collection> [id|key]           Print a collection, record, or entry
  find <collection> <field=value>...  Query records by field equality
  insert <collection> <json>          Insert a record
  set <collection> <key> <json>       Set a map entry
  rm <collection> <id|key>            Remove a record or entry
  drop <collection>...                Delete collections
  stats                               Show cache statistics
  warm <collection>...|--top n        Preload collections into the cache
  shell                               Interactive session`)
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func parseMode(s string) (dirstore.CacheMode, error) {
	switch s {
	case "all":
		return dirstore.CacheAll, nil
	case "off":
		return dirstore.CacheOff, nil
	case "ttl":
		return dirstore.CacheTTL, nil
	case "lru":
		return dirstore.CacheLRU, nil
	default:
		return 0, fmt.Errorf("unknown cache mode %q (want all, off, ttl, or lru)", s)
	}
}

func cmdLs(store *dirstore.Store) error {
	names, err := store.Collections()
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}

func cmdGet(ctx context.Context, store *dirstore.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: get <collection> [id|key]")
	}

	col, err := store.Collection(args[0])
	if err != nil {
		return err
	}

	if len(args) < 2 {
		root, err := col.Root(ctx)
		if err != nil {
			return err
		}

		switch root.Shape() {
		case dirstore.ShapeList:
			return printJSON(root.List())
		case dirstore.ShapeMap:
			return printJSON(root.Map())
		default:
			fmt.Println("(empty)")

			return nil
		}
	}

	shape, err := col.Shape(ctx)
	if err != nil {
		return err
	}

	if shape == dirstore.ShapeList {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%s holds records; get needs a numeric id", args[0])
		}

		rec, found, err := col.FindByID(ctx, id)
		if err != nil {
			return err
		}

		if !found {
			return fmt.Errorf("no record with id %d", id)
		}

		return printJSON(rec)
	}

	v, found, err := col.Get(ctx, args[1])
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("no entry %q", args[1])
	}

	return printJSON(v)
}

func cmdFind(ctx context.Context, store *dirstore.Store, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: find <collection> <field=value>...")
	}

	col, err := store.Collection(args[0])
	if err != nil {
		return err
	}

	q, err := parseQuery(args[1:])
	if err != nil {
		return err
	}

	matches, err := col.Find(ctx, q)
	if err != nil {
		return err
	}

	return printJSON(matches)
}

func cmdInsert(ctx context.Context, store *dirstore.Store, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: insert <collection> <json>")
	}

	col, err := store.Collection(args[0])
	if err != nil {
		return err
	}

	var rec dirstore.Record
	if err := decodeArg(strings.Join(args[1:], " "), &rec); err != nil {
		return fmt.Errorf("record must be a JSON object: %w", err)
	}

	stored, err := col.Insert(ctx, rec)
	if err != nil {
		return err
	}

	return printJSON(stored)
}

func cmdSet(ctx context.Context, store *dirstore.Store, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: set <collection> <key> <json>")
	}

	col, err := store.Collection(args[0])
	if err != nil {
		return err
	}

	return col.Set(ctx, args[1], parseValue(strings.Join(args[2:], " ")))
}

func cmdRm(ctx context.Context, store *dirstore.Store, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: rm <collection> <id|key>")
	}

	col, err := store.Collection(args[0])
	if err != nil {
		return err
	}

	shape, err := col.Shape(ctx)
	if err != nil {
		return err
	}

	var removed bool

	switch shape {
	case dirstore.ShapeList:
		id, perr := strconv.ParseInt(args[1], 10, 64)
		if perr != nil {
			return fmt.Errorf("%s holds records; rm needs a numeric id", args[0])
		}

		removed, err = col.Remove(ctx, id)
	case dirstore.ShapeMap:
		removed, err = col.RemoveKey(ctx, args[1])
	default:
		removed = false
	}

	if err != nil {
		return err
	}

	if !removed {
		return fmt.Errorf("nothing to remove for %q", args[1])
	}

	fmt.Println("removed", args[1])

	return nil
}

func cmdDrop(ctx context.Context, store *dirstore.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: drop <collection>...")
	}

	return store.Drop(ctx, args...)
}

func cmdStats(store *dirstore.Store) error {
	st := store.CacheStats()

	fmt.Printf("entries:     %d (%d bytes)\n", st.Entries, st.Bytes)
	fmt.Printf("hits:        %d\n", st.Hits)
	fmt.Printf("misses:      %d\n", st.Misses)
	fmt.Printf("evictions:   %d\n", st.Evictions)
	fmt.Printf("expirations: %d\n", st.Expirations)

	top := store.TopAccessed(10)
	if len(top) > 0 {
		fmt.Println()
		fmt.Println("top accessed:")

		for _, e := range top {
			fmt.Printf("  %-24s accesses=%-6d bytes=%-8d age=%s\n",
				e.Name, e.Accesses, e.Bytes, e.Age.Round(time.Second))
		}
	}

	return nil
}

func cmdWarm(ctx context.Context, store *dirstore.Store, args []string) error {
	flags := flag.NewFlagSet("warm", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	top := flags.Int("top", 0, "warm the n most-accessed collections")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *top > 0 {
		return store.WarmTop(ctx, *top)
	}

	if flags.NArg() == 0 {
		return errors.New("usage: warm <collection>... | warm --top n")
	}

	return store.Warm(ctx, flags.Args()...)
}

func parseQuery(terms []string) (dirstore.Query, error) {
	q := dirstore.Query{}

	for _, term := range terms {
		field, value, ok := strings.Cut(term, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("bad query term %q (want field=value)", term)
		}

		q[field] = parseValue(value)
	}

	return q, nil
}

// parseValue reads an argument as JSON, falling back to the raw string so
// bare words don't need quoting.
func parseValue(s string) any {
	var v any
	if err := decodeArg(s, &v); err != nil {
		return s
	}

	return v
}

func decodeArg(s string, out any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	return dec.Decode(out)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))

	return nil
}
