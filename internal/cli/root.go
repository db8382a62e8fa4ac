// Package cli implements the loop command line using Cobra.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"loop/internal/config"
	"loop/internal/exitcode"
	"loop/internal/logging"
	"loop/internal/loop"
	"loop/internal/shell"
	"loop/internal/trace"
	"loop/internal/tui"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is reported by --version.
var Version = "dev"

// defaultTraceEndpoint is used by a bare --trace when nothing else names a
// collector.
const defaultTraceEndpoint = "localhost:4318"

// traceFromConfig is the value a bare --trace receives.
const traceFromConfig = "auto"

// IOStreams are the standard streams the command reads and writes.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// StdStreams returns the process's own streams.
func StdStreams() IOStreams {
	return IOStreams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
}

// options holds the parsed flags for one invocation.
type options struct {
	num           float64
	countBy       string
	offset        float64
	every         string
	forItems      string
	forDuration   string
	untilContains string
	untilMatch    string
	untilTime     string
	untilError    string
	untilSuccess  bool
	untilFail     bool
	untilChanges  bool
	untilSame     bool
	onlyLast      bool
	stdin         bool
	errorDuration bool
	summary       bool

	detach bool
	tty    bool
	tui    bool
	trace  string

	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string

	// Which flags were given explicitly.
	numSet      bool
	everySet    bool
	summarySet  bool
	forSet      bool
	containsSet bool
	matchSet    bool
}

// Execute parses args, runs the loop and returns the process exit code.
// The error, if any, is for the caller to print.
func Execute(ctx context.Context, args []string, streams IOStreams) (exitcode.Code, error) {
	var outcome loop.Outcome
	cmd := NewRootCommand(streams, &outcome)
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return ExitCodeFor(err, outcome.ExitCode), err
}

// NewRootCommand builds the loop command. The outcome of a run is stored
// in outcome when it is non-nil.
func NewRootCommand(streams IOStreams, outcome *loop.Outcome) *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "loop [flags] [--] <command>...",
		Short: "UNIX's missing loop command",
		Long: `loop runs a shell command over and over: a fixed number of times, over a
list of items, on a schedule, or until its output or exit status says stop.

Each run sees ITEM (the current item), COUNT (the counter, scaled by
--count-by and offset by --offset) and ACTUALCOUNT (the zero-based run index)
in its environment.

Defaults can be set in $XDG_CONFIG_HOME/loop/config.yaml or with LOOP_*
environment variables.`,
		Example: `  # Run a command four times
  loop -n 4 -- echo hello

  # Iterate over items
  loop --for red,green,blue -- 'echo $ITEM'

  # Poll every 5 seconds until a service answers
  loop -e 5s --until-success -- curl -sf http://localhost:8080/health

  # Watch a file until its contents change
  loop -e 1s --until-changes -- cat status.txt

  # Stop on a specific exit code (note the "=")
  loop --until-error=3 -- ./flaky.sh`,
		Args:          cobra.ArbitraryArgs,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			o.numSet = flags.Changed("num")
			o.everySet = flags.Changed("every")
			o.summarySet = flags.Changed("summary")
			o.forSet = flags.Changed("for")
			o.containsSet = flags.Changed("until-contains")
			o.matchSet = flags.Changed("until-match")

			out, err := run(cmd.Context(), o, args, streams)
			if outcome != nil {
				*outcome = out
			}
			return err
		},
	}

	cmd.SetIn(streams.In)
	cmd.SetOut(streams.Out)
	cmd.SetErr(streams.ErrOut)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError(err)
	})

	f := cmd.Flags()
	// Everything after the first word of the command belongs to it.
	f.SetInterspersed(false)

	f.Float64VarP(&o.num, "num", "n", 0, "number of iterations to execute (negative = unbounded)")
	f.StringVarP(&o.countBy, "count-by", "b", "1", "amount to increment the counter by")
	f.Float64VarP(&o.offset, "offset", "o", 0, "amount to offset the initial counter by")
	f.StringVarP(&o.every, "every", "e", "", "how often to iterate, e.g. 5s, 1h1m1s1ms1us")
	f.StringVar(&o.forItems, "for", "", "items placed into $ITEM, e.g. red,green,blue")
	f.StringVarP(&o.forDuration, "for-duration", "d", "", "keep going until the duration has elapsed, e.g. 1m30s")
	f.StringVarP(&o.untilContains, "until-contains", "c", "", "keep going until the output contains this string")
	f.StringVarP(&o.untilMatch, "until-match", "m", "", "keep going until the output matches this regular expression")
	f.StringVarP(&o.untilTime, "until-time", "t", "", `keep going until a time, e.g. "2018-04-20 04:20:00" (UTC)`)
	f.StringVarP(&o.untilError, "until-error", "r", "", "keep going until the exit status is non-zero, or equals --until-error=CODE")
	f.Lookup("until-error").NoOptDefVal = untilErrorAny
	f.BoolVarP(&o.untilSuccess, "until-success", "s", false, "keep going until the exit status is zero")
	f.BoolVarP(&o.untilFail, "until-fail", "f", false, "keep going until the exit status is non-zero")
	f.BoolVarP(&o.untilChanges, "until-changes", "C", false, "keep going until the output changes")
	f.BoolVarP(&o.untilSame, "until-same", "S", false, "keep going until the output stays the same")
	f.BoolVarP(&o.onlyLast, "only-last", "l", false, "only print the last line of the last execution")
	f.BoolVarP(&o.stdin, "stdin", "i", false, "append lines read from stdin to the items")
	f.BoolVarP(&o.errorDuration, "error-duration", "D", false, "exit with the timeout code when --for-duration elapses")
	f.BoolVar(&o.summary, "summary", false, "print a summary of runs, successes and failures")

	f.BoolVar(&o.detach, "detach", false, "start each run without waiting for the previous one")
	f.BoolVar(&o.tty, "tty", false, "run the command on a pseudo-terminal")
	f.BoolVar(&o.tui, "tui", false, "show a live watch view instead of printing output")
	f.StringVar(&o.trace, "trace", "", "export an OpenTelemetry trace of the run to an OTLP/HTTP endpoint")
	f.Lookup("trace").NoOptDefVal = traceFromConfig

	f.StringVar(&o.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/loop/config.yaml)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging on stderr")
	f.StringVar(&o.logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	f.StringVar(&o.logFormat, "log-format", "", "override logging format (console, json)")

	return cmd
}

// plan is everything derived from the flags before the first tick.
type plan struct {
	command   string
	iterator  *loop.Iterator
	stop      loop.StopConfig
	every     time.Duration
	precision int
}

// buildPlan validates the flags against cfg. Every failure is a
// ConfigError and happens before any command runs.
func buildPlan(o *options, args []string, cfg *config.Config, in io.Reader) (*plan, error) {
	command := strings.TrimSpace(strings.Join(args, " "))
	if command == "" {
		return nil, configError(ErrNoCommand)
	}

	p := &plan{command: command}

	countBy, err := parseNumber(o.countBy)
	if err != nil {
		return nil, configErrorf("invalid --count-by %q", o.countBy)
	}
	p.precision = loop.PrecisionOf(strings.TrimSpace(o.countBy))

	every := cfg.Every
	if o.everySet {
		every = o.every
	}
	if every != "" {
		if p.every, err = ParseDuration(every); err != nil {
			return nil, configErrorf("bad --every: %w", err)
		}
	}

	stop := loop.StopConfig{
		ErrorDuration: o.errorDuration,
		UntilSuccess:  o.untilSuccess,
		UntilFail:     o.untilFail,
		UntilChanges:  o.untilChanges,
		UntilSame:     o.untilSame,
		OnlyLast:      o.onlyLast,
		Summary:       cfg.Summary,
	}
	if o.summarySet {
		stop.Summary = o.summary
	}
	if o.forDuration != "" {
		if stop.ForDuration, err = ParseDuration(o.forDuration); err != nil {
			return nil, configErrorf("bad --for-duration: %w", err)
		}
	}
	// An empty pattern given explicitly still counts and matches every line.
	if o.containsSet {
		s := o.untilContains
		stop.Contains = &s
	}
	if o.matchSet {
		if stop.Match, err = regexp.Compile(o.untilMatch); err != nil {
			return nil, configErrorf("bad --until-match: %w", err)
		}
	}
	if o.untilTime != "" {
		if stop.UntilTime, err = ParseUntilTime(o.untilTime); err != nil {
			return nil, configErrorf("bad --until-time: %w", err)
		}
	}
	if o.untilError != "" {
		stop.UntilError = ParseUntilError(o.untilError)
	}
	p.stop = stop

	var items []string
	if o.forSet {
		items = SplitItems(o.forItems)
	}
	if in != nil && (o.stdin || !isTerminal(in)) {
		lines, err := readLines(in)
		if err != nil {
			return nil, configErrorf("reading stdin: %w", err)
		}
		items = append(items, lines...)
	}

	var count *float64
	if o.numSet {
		n := o.num
		count = &n
	}
	p.iterator = loop.NewIterator(o.offset, countBy, count, items)
	return p, nil
}

func run(ctx context.Context, o *options, args []string, streams IOStreams) (loop.Outcome, error) {
	cfg, cfgFile, err := loadConfig(o)
	if err != nil {
		return loop.Outcome{}, err
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
		Output:       streams.ErrOut,
		NoColor:      !isTerminal(streams.ErrOut),
	})
	session := uuid.NewString()
	logging.With("session", session)
	logger := logging.Component("cli")
	if cfgFile != "" {
		logger.Debug().Str("file", cfgFile).Msg("loaded config")
	}

	p, err := buildPlan(o, args, cfg, streams.In)
	if err != nil {
		return loop.Outcome{}, err
	}

	useTUI := o.tui
	if useTUI && !isTerminal(streams.Out) {
		logger.Warn().Msg("--tui needs a terminal on stdout, printing output instead")
		useTUI = false
	}

	out := streams.Out
	var deferred *bytes.Buffer
	var evalOpts []loop.EvaluatorOption
	if useTUI {
		deferred = &bytes.Buffer{}
		out = deferred
		evalOpts = append(evalOpts, loop.WithoutEcho())
	}

	observers := []loop.Observer{loop.NewLogObserver(logging.Component("loop"))}
	provider, err := newTraceProvider(ctx, o.trace, cfg.Trace)
	if err != nil {
		return loop.Outcome{}, configErrorf("trace: %w", err)
	}
	if provider != nil {
		defer shutdownTracing(provider, logger)
		observers = append(observers, trace.NewObserver(ctx, provider.Tracer(), session))
	}

	model := &loop.Model{
		Command:   p.command,
		Config:    p.stop,
		Executor:  newExecutor(o.tty, cfg.Shell),
		Env:       loop.NewVars(os.Environ()),
		Evaluator: loop.NewEvaluator(p.stop, out, evalOpts...),
		Observer:  loop.NewMultiObserver(observers...),
		Precision: p.precision,
	}
	driver, err := loop.NewDriver(loop.Config{
		Iterator: p.iterator,
		Model:    model,
		Every:    p.every,
		Detach:   o.detach,
		Output:   out,
	})
	if err != nil {
		return loop.Outcome{}, err
	}

	logger.Debug().
		Str("command", p.command).
		Dur("every", p.every).
		Bool("detach", o.detach).
		Bool("tty", o.tty).
		Msg("starting loop")

	var outcome loop.Outcome
	if useTUI {
		outcome, err = tui.Run(ctx, model, driver)
		if _, werr := io.Copy(streams.Out, deferred); werr != nil {
			logger.Debug().Err(werr).Msg("writing deferred output")
		}
	} else {
		outcome, err = driver.Run(ctx)
	}
	if shell.IsLaunchError(err) {
		logger.Error().
			Str("program", cfg.Shell.Program).
			Msg("shell could not be started; set shell.program or LOOP_SHELL_PROGRAM")
	}
	return outcome, err
}

// loadConfig reads the file/env layer and applies the logging flags on
// top of it. It also returns the config file that was read, if any.
func loadConfig(o *options) (*config.Config, string, error) {
	loader := config.NewLoader()
	if o.cfgFile != "" {
		loader.SetConfigFile(o.cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", configError(err)
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	} else if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
		if err := cfg.Validate(); err != nil {
			return nil, "", configError(err)
		}
	}
	return cfg, loader.ConfigFileUsed(), nil
}

func newExecutor(tty bool, sh config.ShellConfig) shell.Executor {
	opts := []shell.Option{shell.WithShell(sh.Program, sh.Flag)}
	if tty {
		return shell.NewPTYRunner(opts...)
	}
	return shell.NewRunner(opts...)
}

// newTraceProvider resolves the collector endpoint: an explicit --trace
// value, then trace.endpoint from the config, then the OTEL environment.
// A bare --trace falls back to a local collector.
func newTraceProvider(ctx context.Context, flagValue string, tc config.TraceConfig) (*trace.Provider, error) {
	endpoint := tc.Endpoint
	switch flagValue {
	case "":
	case traceFromConfig:
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			endpoint = defaultTraceEndpoint
		}
	default:
		endpoint = flagValue
	}
	return trace.NewProvider(ctx, trace.ProviderConfig{
		Endpoint:    endpoint,
		ServiceName: tc.ServiceName,
		Insecure:    tc.Insecure,
	})
}

func shutdownTracing(p *trace.Provider, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("flushing trace")
	}
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// parseNumber parses a finite decimal number.
func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}
