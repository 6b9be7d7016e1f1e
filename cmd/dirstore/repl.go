package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/dirstore"
	"github.com/peterh/liner"
)

// repl is the interactive command loop started by "dirstore shell".
type repl struct {
	store *dirstore.Store
	line  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".dirstore_history")
}

func runShell(ctx context.Context, store *dirstore.Store) error {
	r := &repl{store: store, line: liner.NewLiner()}
	defer r.line.Close()

	r.line.SetCtrlCAborts(true)
	r.line.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("dirstore - %s\n", store.BaseDir())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		input, err := r.line.Prompt("dirstore> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		r.line.AppendHistory(input)

		if quit := r.dispatch(ctx, input); quit {
			break
		}
	}

	r.saveHistory()

	return nil
}

// dispatch runs one shell command. Errors are printed, never fatal: a bad
// command must not end the session.
func (r *repl) dispatch(ctx context.Context, input string) (quit bool) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		fmt.Println("Bye!")

		return true

	case "help", "?":
		r.printHelp()

	case "clear", "cls":
		fmt.Print("\033[H\033[2J")

	case "ls", "list":
		err = cmdLs(r.store)

	case "get":
		err = cmdGet(ctx, r.store, args)

	case "keys":
		err = r.cmdKeys(ctx, args)

	case "count":
		err = r.cmdCount(ctx, args)

	case "find":
		err = cmdFind(ctx, r.store, args)

	case "insert":
		err = cmdInsert(ctx, r.store, args)

	case "set":
		err = cmdSet(ctx, r.store, args)

	case "rm", "del":
		err = cmdRm(ctx, r.store, args)

	case "drop":
		err = cmdDrop(ctx, r.store, args)

	case "stats":
		err = cmdStats(r.store)

	case "warm":
		err = cmdWarm(ctx, r.store, args)

	case "invalidate":
		r.store.Invalidate(args...)

	default:
		fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		fmt.Println("error:", err)
	}

	return false
}

func (r *repl) cmdKeys(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: keys <collection>")
	}

	col, err := r.store.Collection(args[0])
	if err != nil {
		return err
	}

	keys, err := col.Keys(ctx)
	if err != nil {
		return err
	}

	for _, k := range keys {
		fmt.Println(k)
	}

	return nil
}

func (r *repl) cmdCount(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: count <collection> [field=value]...")
	}

	col, err := r.store.Collection(args[0])
	if err != nil {
		return err
	}

	q, err := parseQuery(args[1:])
	if err != nil {
		return err
	}

	n, err := col.Count(ctx, q)
	if err != nil {
		return err
	}

	fmt.Println(n)

	return nil
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for command names.
func (r *repl) completer(input string) []string {
	commands := []string{
		"ls", "list", "get", "keys", "count", "find",
		"insert", "set", "rm", "del", "drop",
		"stats", "warm", "invalidate",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(input)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  ls                                  List collections")
	fmt.Println("  get <collection> [id|key]           Print a collection, record, or entry")
	fmt.Println("  keys <collection>                   List keys or record ids")
	fmt.Println("  count <collection> [field=value]... Count matching entries")
	fmt.Println("  find <collection> <field=value>...  Query records by field equality")
	fmt.Println("  insert <collection> <json>          Insert a record")
	fmt.Println("  set <collection> <key> <json>       Set a map entry")
	fmt.Println("  rm <collection> <id|key>            Remove a record or entry")
	fmt.Println("  drop <collection>...                Delete collections")
	fmt.Println("  stats                               Show cache statistics")
	fmt.Println("  warm <collection>...|--top n        Preload collections")
	fmt.Println("  invalidate [collection]...          Drop cache entries")
	fmt.Println("  help                                Show this help")
	fmt.Println("  exit / quit / q                     Exit")
	fmt.Println()
}
