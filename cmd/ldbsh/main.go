// ldbsh is a small interactive shell over the store engine. It is a
// demonstration wired to a handful of real operations (create, insert,
// select, collate) — not an implementation of the full shell grammar,
// which is an out-of-scope external collaborator.
//
// Usage:
//
//	ldbsh --root <path>   (or: ldbsh -r <path>)
//
// Commands (in REPL):
//
//	create database <db>
//	create table <db>/<table> keylen <n> reclen <n>
//	insert into <db>/<table> key <hex> hex <data-hex>
//	select from <db>/<table> key <hex>
//	unlink list from <db>/<table> key <hex>
//	collate <db>/<table>
//	help
//	exit / quit
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/scanoss/ldbgo/internal/config"
	"github.com/scanoss/ldbgo/store"
)

func main() {
	root := pflag.StringP("root", "r", ".", "LDB data root directory")
	pflag.Parse()

	s := store.NewStore(*root)
	repl := &REPL{store: s}
	if err := repl.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// REPL is the interactive command loop.
type REPL struct {
	store *store.Store
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ldbsh_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("ldbsh - LDB engine demo shell")
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("ldbsh> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if err := r.dispatch(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if line == "exit" || line == "quit" {
			break
		}
	}
	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	r.liner.WriteHistory(f)
}

func (r *REPL) dispatch(line string) error {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "exit", "quit":
		return nil
	case "help", "?":
		r.printHelp()
		return nil
	case "create":
		return r.cmdCreate(fields[1:])
	case "insert":
		return r.cmdInsert(fields[1:])
	case "select":
		return r.cmdSelect(fields[1:])
	case "unlink":
		return r.cmdUnlink(fields[1:])
	case "collate":
		return r.cmdCollate(fields[1:])
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func (r *REPL) printHelp() {
	fmt.Println(`commands:
  create database <db>
  create table <db>/<table> keylen <n> reclen <n>
  insert into <db>/<table> key <hex> hex <data-hex>
  select from <db>/<table> key <hex>
  unlink list from <db>/<table> key <hex>
  collate <db>/<table>
  help
  exit / quit`)
}

// cmdCreate handles "create database <db>" and
// "create table <db>/<table> keylen <n> reclen <n>".
func (r *REPL) cmdCreate(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create database <db> | create table <db>/<table> keylen <n> reclen <n>")
	}
	switch args[0] {
	case "database":
		return r.store.Layout.CreateDatabase(args[1])
	case "table":
		db, table, err := splitDBTable(args[1])
		if err != nil {
			return err
		}
		cfg := config.TableConfig{KeyLen: 20, RecLen: 0, Keys: 1, Flags: config.Standard}
		for i := 2; i+1 < len(args); i += 2 {
			switch args[i] {
			case "keylen":
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					return err
				}
				cfg.KeyLen = n
			case "reclen":
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					return err
				}
				cfg.RecLen = n
			}
		}
		if err := r.store.Layout.CreateTableDir(db, table); err != nil {
			return err
		}
		return config.Write(r.store.Layout.ConfigPath(db, table), cfg)
	default:
		return fmt.Errorf("unknown create target %q", args[0])
	}
}

// cmdInsert handles "insert into <db>/<table> key <hex> hex <data-hex>".
func (r *REPL) cmdInsert(args []string) error {
	if len(args) < 6 || args[0] != "into" {
		return fmt.Errorf("usage: insert into <db>/<table> key <hex> hex <data-hex>")
	}
	db, table, err := splitDBTable(args[1])
	if err != nil {
		return err
	}
	key, err := hex.DecodeString(args[3])
	if err != nil {
		return fmt.Errorf("bad key hex: %w", err)
	}
	data, err := hex.DecodeString(args[5])
	if err != nil {
		return fmt.Errorf("bad data hex: %w", err)
	}

	tab, lerr := r.store.OpenTable(db, table)
	if lerr != nil {
		return lerr
	}
	w := store.NewBulkWriter(r.store.Layout, tab, r.store.Logger, r.store.Counters)
	var ierr *store.Error
	if tab.Cfg.Variable() {
		ierr = w.AppendVariable(key, data)
	} else {
		ierr = w.AppendFixed(key, data)
	}
	if ierr != nil {
		return ierr
	}
	return w.Close()
}

// cmdSelect handles "select from <db>/<table> key <hex>".
func (r *REPL) cmdSelect(args []string) error {
	if len(args) < 4 || args[0] != "from" {
		return fmt.Errorf("usage: select from <db>/<table> key <hex>")
	}
	db, table, err := splitDBTable(args[1])
	if err != nil {
		return err
	}
	key, err := hex.DecodeString(args[3])
	if err != nil {
		return fmt.Errorf("bad key hex: %w", err)
	}

	tab, lerr := r.store.OpenTable(db, table)
	if lerr != nil {
		return lerr
	}
	count := 0
	lerr = store.Fetch(r.store.Layout, tab, key, store.FetchOptions{Logger: r.store.Logger}, func(rec store.Record) bool {
		fmt.Printf("%s %s\n", hex.EncodeToString(rec.Subkey), hex.EncodeToString(rec.Data))
		count++
		return false
	})
	if lerr != nil {
		return lerr
	}
	fmt.Printf("%d record(s)\n", count)
	return nil
}

// cmdUnlink handles "unlink list from <db>/<table> key <hex>": it zeroes
// the key's map slot without shrinking the sector file, leaving the
// unlinked nodes to be reclaimed by a later collate pass.
func (r *REPL) cmdUnlink(args []string) error {
	if len(args) < 5 || args[0] != "list" || args[1] != "from" {
		return fmt.Errorf("usage: unlink list from <db>/<table> key <hex>")
	}
	db, table, err := splitDBTable(args[2])
	if err != nil {
		return err
	}
	key, err := hex.DecodeString(args[4])
	if err != nil {
		return fmt.Errorf("bad key hex: %w", err)
	}

	tab, lerr := r.store.OpenTable(db, table)
	if lerr != nil {
		return lerr
	}
	return store.UnlinkList(r.store.Layout, tab, key)
}

// cmdCollate handles "collate <db>/<table>".
func (r *REPL) cmdCollate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: collate <db>/<table>")
	}
	db, table, err := splitDBTable(args[0])
	if err != nil {
		return err
	}
	tab, lerr := r.store.OpenTable(db, table)
	if lerr != nil {
		return lerr
	}
	return store.CollateTable(r.store.Layout, tab, tab, store.CollateDedup, nil, store.CollateOptions{
		Logger: r.store.Logger, Counters: r.store.Counters,
	})
}

func splitDBTable(s string) (db, table string, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected <db>/<table>, got %q", s)
	}
	return parts[0], parts[1], nil
}
