// Command kvctl is an interactive shell over a store.Engine: readline-driven,
// history-backed, and modeled on jeremytregunna-kevo's cmd/kevo REPL — a
// prefix completer, a prompt showing the data directory, and a flat command switch — scaled
// down to the operations this engine actually exposes (no transactions, no
// gRPC server mode).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/supermanng/monipoint/internal/store"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("RANGE"),
	readline.PcItem("BATCHPUT"),
)

const helpText = `
kvctl - interactive shell for the segmented-log key-value engine.

Commands:
  PUT key value              store a key-value pair (value may be empty)
  GET key                    retrieve a value by key
  DELETE key                 remove a key
  RANGE start end            list every live key in [start, end]
  BATCHPUT k1 v1 k2 v2 ...   apply several puts under one write lock
  .stats                     show the data directory (no segment or memtable counts)
  .help                      show this message
  .exit                      close the engine and quit
`

func main() {
	dataDir := flag.String("dir", "./kvdata", "data directory for the storage engine")
	maxSegmentBytes := flag.Int64("max-segment-bytes", 0, "override the per-segment size cap (0 = engine default)")
	memtableBytes := flag.Int64("memtable-bytes", 0, "override the memtable flush threshold in bytes (0 = engine default)")
	verbose := flag.Bool("v", false, "enable info-level engine logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building logger: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	opts := []store.Option{store.WithLogger(logger)}
	if *maxSegmentBytes > 0 {
		opts = append(opts, store.WithMaxSegmentBytes(*maxSegmentBytes))
	}
	if *memtableBytes > 0 {
		opts = append(opts, store.WithMemtableBytes(*memtableBytes))
	}

	eng, err := store.Open(*dataDir, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening engine at %s: %s\n", *dataDir, err)
		os.Exit(1)
	}
	defer eng.Close()

	runInteractive(eng, *dataDir)
}

func runInteractive(eng *store.Engine, dataDir string) {
	fmt.Println("kvctl - enter .help for usage")

	historyFile := filepath.Join(os.TempDir(), ".kvctl_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("kvctl:%s> ", dataDir),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			}
			if readErr == io.EOF {
				fmt.Println("goodbye")
				break
			}
			fmt.Fprintf(os.Stderr, "error reading input: %s\n", readErr)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		switch cmd {
		case ".HELP":
			fmt.Print(helpText)

		case ".EXIT":
			fmt.Println("goodbye")
			return

		case ".STATS":
			fmt.Printf("data directory: %s\n", dataDir)

		case "PUT":
			if len(parts) < 2 {
				fmt.Println("error: PUT requires a key, and an optional value")
				continue
			}
			key := parts[1]
			value := []byte(strings.Join(parts[2:], " "))
			if len(parts) == 2 {
				value = []byte{}
			}
			if err := eng.Put(key, value); err != nil {
				fmt.Fprintf(os.Stderr, "error: %s\n", err)
				continue
			}
			fmt.Println("ok")

		case "GET":
			if len(parts) != 2 {
				fmt.Println("error: GET requires exactly one key")
				continue
			}
			v, err := eng.Read(parts[1])
			if err != nil {
				if err == store.ErrKeyNotFound {
					fmt.Println("(not found)")
				} else {
					fmt.Fprintf(os.Stderr, "error: %s\n", err)
				}
				continue
			}
			fmt.Printf("%q\n", string(v))

		case "DELETE":
			if len(parts) != 2 {
				fmt.Println("error: DELETE requires exactly one key")
				continue
			}
			if err := eng.Delete(parts[1]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %s\n", err)
				continue
			}
			fmt.Println("ok")

		case "RANGE":
			if len(parts) != 3 {
				fmt.Println("error: RANGE requires a start and end key")
				continue
			}
			t0 := time.Now()
			results, err := eng.ReadRange(parts[1], parts[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %s\n", err)
				continue
			}
			for _, k := range sortedKeys(results) {
				fmt.Printf("%s: %q\n", k, string(results[k]))
			}
			fmt.Printf("%d entries (%s)\n", len(results), time.Since(t0))

		case "BATCHPUT":
			args := parts[1:]
			if len(args) == 0 || len(args)%2 != 0 {
				fmt.Println("error: BATCHPUT requires an even number of key/value arguments")
				continue
			}
			keys := make([]string, 0, len(args)/2)
			values := make([][]byte, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				keys = append(keys, args[i])
				values = append(values, []byte(args[i+1]))
			}
			if err := eng.BatchPut(keys, values); err != nil {
				fmt.Fprintf(os.Stderr, "error: %s\n", err)
				continue
			}
			fmt.Printf("ok (%d pairs)\n", len(keys))

		default:
			fmt.Printf("unknown command: %s (try .help)\n", parts[0])
		}
	}
}

func sortedKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
