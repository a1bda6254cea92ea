// Kotori is a streaming conversational agent.
//
// It streams completions from an OpenAI-compatible endpoint, routes the
// model's tool calls to configured capability servers, and transforms
// the response stream into per-sentence display text, speech text, and
// actions. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	kotori chat              Start an interactive conversation
//	kotori ask <question>    Ask a single question
//	kotori version           Print version and build information
//	kotori -o json version   Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mivra/kotori-agent/internal/agent"
	"github.com/mivra/kotori-agent/internal/buildinfo"
	"github.com/mivra/kotori-agent/internal/config"
	"github.com/mivra/kotori-agent/internal/llm"
	"github.com/mivra/kotori-agent/internal/outputs"
	"github.com/mivra/kotori-agent/internal/pipeline"
	"github.com/mivra/kotori-agent/internal/registry"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the kotori command. All OS-level
// dependencies are injected as parameters. Arguments are parsed by
// hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface is small.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: kotori ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Kotori - Streaming Conversational Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: kotori [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Start an interactive conversation")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/kotori/config.yaml, /etc/kotori/config.yaml")
	return nil
}

// session bundles everything a conversation needs: the orchestrator,
// the per-turn pipeline configuration, and the optional MQTT publisher.
type session struct {
	cfg       *config.Config
	orch      *agent.Orchestrator
	reg       *registry.Manager
	publisher *outputs.Publisher
	logger    *slog.Logger
}

// newSession loads config and connects the collaborators shared by the
// chat and ask commands. Structured logs go to logW. The caller must
// invoke close when done.
func newSession(ctx context.Context, logW io.Writer, configPath string) (*session, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := newLogger(logW, level)
	logger.Info("config loaded", "path", cfgPath)

	completer := llm.NewOpenAIClient(cfg.LLM, logger)

	reg := registry.NewManager(cfg.ToolServers, logger)
	if err := reg.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize tool registry: %w", err)
	}

	orch := agent.NewOrchestrator(completer, reg, agent.NewMemory(), agent.Options{
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxToolDepth: cfg.Agent.MaxToolDepth,
		Logger:       logger,
	})

	publisher := outputs.New(cfg.Outputs, logger)
	if publisher.Enabled() {
		if err := publisher.Start(ctx); err != nil {
			logger.Warn("output publishing disabled", "error", err)
			publisher = nil
		}
	} else {
		publisher = nil
	}

	return &session{
		cfg:       cfg,
		orch:      orch,
		reg:       reg,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// close shuts down the session's collaborators. Errors are logged, not
// returned, since shutdown is best effort.
func (s *session) close() {
	if s.publisher != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.publisher.Stop(stopCtx); err != nil {
			s.logger.Warn("error stopping output publisher", "error", err)
		}
		cancel()
	}
	s.reg.Shutdown()
}

// turn runs one conversation turn: the orchestrator streams tokens into
// a fresh pipeline, and each output record is printed and published.
func (s *session) turn(ctx context.Context, stdout io.Writer, input string) error {
	p := pipeline.New(s.cfg.Pipeline, s.cfg.Expressions)
	tokens := make(chan string, 64)
	records := p.Process(tokens)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for record := range records {
			if record.DisplayText != "" {
				fmt.Fprintln(stdout, record.DisplayText)
			}
			if len(record.Actions) > 0 {
				fmt.Fprintf(stdout, "  [%s]\n", strings.Join(record.Actions, ", "))
			}
			if s.publisher != nil {
				if err := s.publisher.Publish(ctx, record); err != nil {
					s.logger.Warn("output publish failed", "error", err)
				}
			}
		}
	}()

	err := s.orch.Run(ctx, input, func(ev llm.StreamEvent) {
		if ev.Kind == llm.KindToken {
			tokens <- ev.Token
		}
	})
	close(tokens)
	<-done
	return err
}

// runChat handles the "kotori chat" subcommand: a read-eval loop over
// stdin until EOF or interrupt.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer sess.close()

	fmt.Fprintln(stdout, "Kotori ready. Type a message, or Ctrl-D to exit.")

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "you> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := sess.turn(ctx, stdout, input); err != nil {
			if ctx.Err() != nil {
				break
			}
			sess.logger.Error("turn failed", "error", err)
		}
	}

	fmt.Fprintln(stdout, "bye")
	return scanner.Err()
}

// runAsk handles the "kotori ask <question>" subcommand: one turn,
// then exit.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer sess.close()

	question := strings.Join(args, " ")
	return sess.turn(ctx, stdout, question)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
