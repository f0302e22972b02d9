// ABOUTME: Entry point for the convocore CLI: seed tenant definitions and run a chat REPL
// ABOUTME: The REPL plays the caller role: flow engine first, then catalog resolver, then intents

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/waveline/convocore/internal/catalog"
	"github.com/waveline/convocore/internal/config"
	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/dedupe"
	"github.com/waveline/convocore/internal/flow"
	"github.com/waveline/convocore/internal/flowdef"
	"github.com/waveline/convocore/internal/intent"
	"github.com/waveline/convocore/internal/outbound"
	"github.com/waveline/convocore/internal/store"
	"github.com/waveline/convocore/internal/turn"
)

var version = "dev"

const banner = `

  ___ ___  _ ____   _____   ___ ___  _ __ ___
 / __/ _ \| '_ \ \ / / _ \ / __/ _ \| '__/ _ \
| (_| (_) | | | \ V / (_) | (_| (_) | | |  __/
 \___\___/|_| |_|\_/ \___/ \___\___/|_|  \___|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "seed":
		err = cmdSeed(cfg, args)
	case "chat":
		err = cmdChat(cfg, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(banner)
	fmt.Println(`Usage: convocore <command> [args]

Commands:
  seed <file.toml>...              Install tenant definitions into the store
  chat <tenant> <channel> <sender> Interactive turn loop against the store
  version                          Print version

Config file path comes from CONVOCORE_CONFIG (default: convocore.yaml).`)
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONVOCORE_CONFIG")
	if path == "" {
		path = "convocore.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.Database.Path = "convocore.db"
		return cfg, nil
	}
	return config.Load(path)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func cmdSeed(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("seed requires at least one definition file")
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, path := range args {
		def, err := flowdef.ParseFile(path)
		if err != nil {
			return err
		}
		if err := flowdef.Install(ctx, st, def); err != nil {
			return fmt.Errorf("installing %s: %w", path, err)
		}
		color.Green("Installed %s (tenant %s: %d flows, %d services, %d intents)\n",
			path, def.Tenant, len(def.Flows), len(def.Services), len(def.Intents))
	}
	return nil
}

func cmdChat(cfg *config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("chat requires <tenant> <channel> <sender>")
	}
	tenant, channel, sender := args[0], args[1], args[2]
	lang := "en"
	if len(args) > 3 {
		lang = args[3]
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	handler, cache := buildHandler(cfg, st)
	defer cache.Close()

	fmt.Print(banner)
	fmt.Printf("Chatting as %s/%s/%s (lang %s). Ctrl-D to exit.\n\n", tenant, channel, sender, lang)

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	prompt := color.New(color.FgCyan).PrintfFunc()
	for {
		prompt("you> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		respond(ctx, handler, tenant, channel, sender, lang, input)
	}
	return scanner.Err()
}

// buildHandler wires the full turn pipeline. The returned cache owns a
// background cleanup goroutine; the caller must Close it.
func buildHandler(cfg *config.Config, st store.Store) (*turn.Handler, *dedupe.Cache) {
	logger := slog.Default()
	state := convstate.New(st, logger)

	triggers := []flow.Trigger{
		&flow.ChannelKeywordTrigger{FlowKey: "select_channel"},
		&flow.FirstContactTrigger{
			FlowKey:      "onboarding",
			CompletedKey: "onboarding_completed",
			Memory:       st,
		},
	}
	engine := flow.New(st, st, state, triggers, logger)

	resolver := catalog.New(st, catalog.Config{
		ConfidenceFloor: cfg.Matching.ConfidenceFloor,
		AmbiguityGap:    cfg.Matching.AmbiguityGap,
		MaxOptions:      cfg.Matching.MaxOptions,
		StickyTTL:       cfg.Matching.StickyTTL,
	}, logger)

	matcher := intent.New(st, cfg.Matching.IntentThreshold, logger)

	cache := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	guard := outbound.New(st, cache, logger)

	return turn.New(engine, resolver, matcher, state, guard, cfg.Turn.Timeout, logger), cache
}

// respond plays the out-of-scope caller: flow engine owns the turn when a
// flow is active, otherwise the resolver and intent matcher are tried in
// that order.
func respond(ctx context.Context, handler *turn.Handler, tenant, channel, sender, lang, input string) {
	bot := color.New(color.FgGreen).PrintfFunc()
	dim := color.New(color.Faint).PrintfFunc()

	messageID := uuid.New().String()
	res := handler.HandleTurn(ctx, tenant, channel, sender, lang, input, messageID)
	if res.Handled {
		if res.Reply != "" {
			bot("bot> %s\n", res.Reply)
		} else {
			dim("(handled silently)\n")
		}
		return
	}

	if cat := handler.ResolveCatalog(ctx, tenant, channel, sender, lang, input); cat.Hit {
		printCatalog(cat)
		return
	}

	if match := handler.MatchIntent(ctx, tenant, channel, input, lang); match != nil {
		bot("bot> %s\n", match.Response)
		dim("(intent %s, score %.2f)\n", match.Intent, match.Score)
		return
	}

	dim("(not handled, falling through to default responder)\n")
}

func printCatalog(res *catalog.Result) {
	bot := color.New(color.FgGreen).PrintfFunc()

	if res.Question != "" {
		bot("bot> %s\n", res.Question)
	}
	if res.Facts == nil {
		return
	}
	switch res.Facts.Kind {
	case catalog.FactOptions:
		for _, opt := range res.Facts.Options {
			line := "  - " + opt.Label
			if opt.Price != nil {
				line += fmt.Sprintf(" (%s)", formatPrice(opt.Price, opt.Currency))
			}
			fmt.Println(line)
		}
	default:
		bot("bot> %s", res.Facts.Label)
		if res.Facts.Price != nil {
			fmt.Printf(" - %s", formatPrice(res.Facts.Price, res.Facts.Currency))
		}
		fmt.Println()
		if res.Facts.Includes != nil {
			fmt.Printf("     %s\n", *res.Facts.Includes)
		}
		if res.Facts.DurationMinutes != nil {
			fmt.Printf("     %d min\n", *res.Facts.DurationMinutes)
		}
		if res.Facts.URL != nil {
			fmt.Printf("     %s\n", *res.Facts.URL)
		}
	}
}

func formatPrice(price *float64, currency *string) string {
	cur := ""
	if currency != nil {
		cur = " " + *currency
	}
	return fmt.Sprintf("%.2f%s", *price, cur)
}
