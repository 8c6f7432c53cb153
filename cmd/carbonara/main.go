package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ergochat/readline"
	"github.com/prometheus/client_golang/prometheus"

	carbonara "github.com/InsightCenterNoodles/Carbonara"
	"github.com/InsightCenterNoodles/Carbonara/assets"
	"github.com/InsightCenterNoodles/Carbonara/utils"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

type Config struct {
	Listen     string `toml:"listen"`
	Assets     string `toml:"assets"`
	LogLevel   string `toml:"log_level"`
	FrameLimit int64  `toml:"frame_limit"`
	ChunkLimit int    `toml:"chunk_limit"`
}

func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:50000"
	}
	if c.Assets == "" {
		c.Assets = "127.0.0.1:50001"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func loadConfig() (cfg Config, err error) {
	path := "carbonara.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if _, err = toml.DecodeFile(path, &cfg); err != nil {
			return
		}
	}
	cfg.SetDefaults()
	return
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("spawn"),
	readline.PcItem("patch"),
	readline.PcItem("delete"),
	readline.PcItem("clients"),
	readline.PcItem("world"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

const help = `spawn <name>          create an entity
patch <slot> <gen> <key> <value>
delete <slot> <gen>   close an entity
clients               connected client counts
world                 live component counts
exit                  shut down`

func main() {
	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	log := utils.NewDefaultLogger(logLevel(cfg.LogLevel))
	reg := prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs := assets.NewHTTPHost(log, reg)
	if err := blobs.Listen(ctx, cfg.Assets); err != nil {
		log.Error("main: asset host failed", "err", err)
		os.Exit(-1)
	}
	defer blobs.Close()

	onInvoke := func(from uuid.UUID, payload cbor.RawMessage) {
		log.Info("main: invoke received", "from", from.String(), "bytes", len(payload))
	}

	srv := carbonara.NewServer(log, carbonara.Options{
		FrameLimit: cfg.FrameLimit,
		ChunkLimit: cfg.ChunkLimit,
	}, blobs, reg, onInvoke)
	if err := srv.Listen(ctx, cfg.Listen); err != nil {
		log.Error("main: listen failed", "err", err)
		os.Exit(-1)
	}
	defer srv.Close()
	go srv.RunTick(ctx)

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/carbonara.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	// the REPL is the demo scene authority; every mutation is scheduled
	// onto the tick goroutine
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		args := strings.Split(line, " ")
		cmd := args[0]
		args = args[1:]

		switch cmd {
		case "":
		case "help":
			fmt.Println(help)
		case "spawn":
			name := "entity"
			if len(args) > 0 {
				name = args[0]
			}
			_ = srv.Exec(func(w *carbonara.World) {
				c := w.Entities.Register(carbonara.Pairs(
					"name", name,
					"parent", carbonara.NoObject,
				))
				fmt.Printf("spawned %s as %s\n", name, c.ID())
			})
		case "patch":
			id, key, value, perr := parsePatch(args)
			if perr != nil {
				_, _ = fmt.Fprintln(os.Stderr, perr.Error())
				continue
			}
			_ = srv.Exec(func(w *carbonara.World) {
				c, ok := w.Entities.Lookup(id)
				if !ok {
					_, _ = fmt.Fprintf(os.Stderr, "no entity %s\n", id)
					return
				}
				c.Patch(carbonara.Pairs(key, value))
				fmt.Printf("patched %s\n", id)
			})
		case "delete":
			id, perr := parseID(args)
			if perr != nil {
				_, _ = fmt.Fprintln(os.Stderr, perr.Error())
				continue
			}
			_ = srv.Exec(func(w *carbonara.World) {
				c, ok := w.Entities.Lookup(id)
				if !ok {
					_, _ = fmt.Fprintf(os.Stderr, "no entity %s\n", id)
					return
				}
				_ = c.Close()
				fmt.Printf("deleted %s\n", id)
			})
		case "clients":
			r := srv.Registry()
			fmt.Printf("active %d, pending %d\n", r.ActiveCount(), r.PendingCount())
		case "world":
			_ = srv.Exec(func(w *carbonara.World) {
				fmt.Printf("%d live components\n", w.ComponentCount())
			})
		case "exit", "quit":
			return
		default:
			_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}
	}
}

func parseID(args []string) (carbonara.ObjectID, error) {
	if len(args) < 2 {
		return carbonara.NoObject, fmt.Errorf("need <slot> <gen>")
	}
	slot, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return carbonara.NoObject, fmt.Errorf("bad slot %q", args[0])
	}
	gen, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return carbonara.NoObject, fmt.Errorf("bad gen %q", args[1])
	}
	return carbonara.ObjectID{Slot: uint32(slot), Gen: uint32(gen)}, nil
}

func parsePatch(args []string) (carbonara.ObjectID, string, string, error) {
	id, err := parseID(args)
	if err != nil {
		return id, "", "", err
	}
	if len(args) < 4 {
		return id, "", "", fmt.Errorf("need <slot> <gen> <key> <value>")
	}
	return id, args[2], args[3], nil
}
