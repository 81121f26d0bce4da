package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tokenfusion/tokenfusion/internal/config"
	"github.com/tokenfusion/tokenfusion/internal/convert"
	"github.com/tokenfusion/tokenfusion/internal/detect"
	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/formats"
	"github.com/tokenfusion/tokenfusion/internal/server"
	"github.com/tokenfusion/tokenfusion/internal/tokens"
	"github.com/tokenfusion/tokenfusion/internal/toon"
)

// CLI defines the command-line interface
var CLI struct {
	Config  string           `help:"Path to a config file. If not specified, the nearest .tokenfusion.yml is used." short:"c" type:"path"`
	Debug   bool             `help:"Enable debug logging." short:"d"`
	Version kong.VersionFlag `help:"Show version information." short:"v"`

	Convert ConvertCmd `cmd:"" help:"Convert content between JSON, TOON, CSV and YAML."`
	Detect  DetectCmd  `cmd:"" help:"Detect the format of content."`
	Tokens  TokensCmd  `cmd:"" help:"Estimate token costs per format and recommend the cheapest."`
	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API server."`
}

// Context holds the runtime context shared by all commands
type Context struct {
	Config  *config.Config
	Debug   bool
	Verbose bool
}

// Version information
const (
	Version = "0.1.0"
)

func main() {
	parser := kong.Must(&CLI,
		kong.Name("tokenfusion"),
		kong.Description("Convert data between JSON, TOON, CSV and YAML, and estimate LLM token costs."),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("tokenfusion version %s", Version)},
	)

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		// The usage will already be shown by kong.UsageOnError()
		os.Exit(1)
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errors.UserFriendlyError(err))
		os.Exit(1)
	}

	appCtx := &Context{
		Config:  cfg,
		Debug:   CLI.Debug || cfg.Dev.Debug,
		Verbose: cfg.Dev.Verbose,
	}
	if appCtx.Verbose && cfg.Source != "" {
		fmt.Fprintf(os.Stderr, "using config file %s\n", cfg.Source)
	}

	if err := ctx.Run(appCtx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errors.UserFriendlyError(err))
		fmt.Fprintf(os.Stderr, "\nFor help, run: tokenfusion --help\n")
		os.Exit(1)
	}
}

// ConvertCmd converts content between formats.
type ConvertCmd struct {
	Input    string `help:"Path to input file. If not specified, reads from stdin." short:"i" type:"path"`
	Output   string `help:"Path to output file. If not specified, writes to stdout." short:"o" type:"path"`
	From     string `help:"Format of the input: auto, json, toon, csv or yaml." default:"auto"`
	To       string `help:"Target format: json, toon, csv, yaml or all." default:"toon"`
	Indented bool   `help:"Render TOON in the indented dialect. Only valid with --to toon."`
}

// Run executes the convert command.
func (c *ConvertCmd) Run(ctx *Context) error {
	toAll := strings.EqualFold(strings.TrimSpace(c.To), "all")
	if c.Indented && (toAll || !strings.EqualFold(strings.TrimSpace(c.To), "toon")) {
		return errors.NewValidationError("--indented is only valid with --to toon", nil)
	}

	var target formats.Format
	if !toAll {
		var err error
		if target, err = formats.Parse(c.To); err != nil {
			return err
		}
	}

	content, err := readInput(c.Input)
	if err != nil {
		return err
	}

	from, err := resolveFrom(c.From, content)
	if err != nil {
		return err
	}
	if ctx.Debug {
		fmt.Fprintf(os.Stderr, "converting from %s\n", from)
	}

	result, err := convert.All(content, from)
	if result != nil && result.Warning != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", result.Warning.Message)
	}
	if err != nil {
		return err
	}

	if toAll {
		estimator := tokens.NewEstimator(ctx.Config.Tokens.Model)
		counts := estimator.CountAll(result.Texts)
		envelope, err := json.MarshalIndent(server.ConvertResponse{
			Success:        true,
			JSON:           result.Texts[formats.JSON],
			TOON:           result.Texts[formats.TOON],
			CSV:            result.Texts[formats.CSV],
			YAML:           result.Texts[formats.YAML],
			Tokens:         countsByName(counts),
			Recommendation: tokens.Recommend(counts),
			FormatWarning:  result.Warning,
		}, "", "  ")
		if err != nil {
			return errors.NewConversionError("failed to render the result envelope", err)
		}
		return writeOutput(string(envelope), c.Output)
	}

	text := result.Texts[target]
	if c.Indented {
		text = toon.EncodeIndented(result.Value)
	}
	return writeOutput(text, c.Output)
}

// DetectCmd guesses the format of content.
type DetectCmd struct {
	Input string `help:"Path to input file. If not specified, reads from stdin." short:"i" type:"path"`
}

// Run executes the detect command.
func (c *DetectCmd) Run(ctx *Context) error {
	content, err := readInput(c.Input)
	if err != nil {
		return err
	}
	fmt.Println(string(detect.Detect(content)))
	return nil
}

// TokensCmd reports per-format token costs.
type TokensCmd struct {
	Input  string `help:"Path to input file. If not specified, reads from stdin." short:"i" type:"path"`
	From   string `help:"Format of the input: auto, json, toon, csv or yaml." default:"auto"`
	Model  string `help:"Model whose tokenizer to estimate with. Defaults to the configured model."`
	Budget int    `help:"Maximum input token budget. 0 disables the check, -1 uses the configured value." default:"-1"`
	JSON   bool   `help:"Emit the machine-readable envelope instead of the table."`
}

// Run executes the tokens command.
func (c *TokensCmd) Run(ctx *Context) error {
	content, err := readInput(c.Input)
	if err != nil {
		return err
	}

	from, err := resolveFrom(c.From, content)
	if err != nil {
		return err
	}

	model := c.Model
	if model == "" {
		model = ctx.Config.Tokens.Model
	}
	estimator := tokens.NewEstimator(model)

	budget := c.Budget
	if budget < 0 {
		budget = ctx.Config.Tokens.MaxInputTokens
	}
	inputTokens, err := estimator.CheckBudget(content, budget)
	if err != nil {
		return err
	}

	result, err := convert.All(content, from)
	if result != nil && result.Warning != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", result.Warning.Message)
	}
	if err != nil {
		return err
	}

	counts := estimator.CountAll(result.Texts)
	recommendation := tokens.Recommend(counts)

	if c.JSON {
		envelope, err := json.MarshalIndent(server.TokensResponse{
			Success:        true,
			Tokens:         countsByName(counts),
			Recommendation: recommendation,
			FormatWarning:  result.Warning,
		}, "", "  ")
		if err != nil {
			return errors.NewConversionError("failed to render the result envelope", err)
		}
		fmt.Println(string(envelope))
		return nil
	}

	fmt.Println(renderTokenTable(estimator.Model(), inputTokens, counts, recommendation))
	return nil
}

// ServeCmd runs the HTTP API server.
type ServeCmd struct {
	Host string `help:"Bind host. Defaults to the configured host."`
	Port int    `help:"Bind port. Defaults to the configured port."`
}

// Run executes the serve command. It blocks until SIGINT or SIGTERM, then
// shuts down gracefully.
func (c *ServeCmd) Run(ctx *Context) error {
	cfg := ctx.Config
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv := server.NewServer(cfg)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.WatchConfig && cfg.Source != "" {
		watcher, err := config.Watch(cfg.Source,
			func(next *config.Config) { srv.ApplyConfig(next) },
			func(err error) { fmt.Fprintf(os.Stderr, "config reload failed: %v\n", err) },
		)
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// resolveFrom turns the --from flag into a format, running detection for
// "auto". Detection failure is an error here: a conversion needs a source
// format to start from.
func resolveFrom(name, content string) (formats.Format, error) {
	if trimmed := strings.TrimSpace(name); trimmed == "" || strings.EqualFold(trimmed, "auto") {
		detected := detect.Detect(content)
		if detected == formats.Unknown {
			return "", errors.NewInputError("could not detect the input format; declare one with --from", errors.ErrUnknownFormat)
		}
		return detected, nil
	}
	return formats.Parse(name)
}

func countsByName(counts map[formats.Format]int) map[string]int {
	out := make(map[string]int, len(counts))
	for f, n := range counts {
		out[string(f)] = n
	}
	return out
}

// renderTokenTable renders per-format token costs with the recommended row
// highlighted.
func renderTokenTable(model string, inputTokens int, counts map[formats.Format]int, rec tokens.Recommendation) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))      // cyan
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))                   // gray
	recommendedStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")) // green

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Token costs (model %s)", model)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("input: %d tokens", inputTokens)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-8s %8s %9s", "FORMAT", "TOKENS", "SAVINGS")))
	b.WriteString("\n")

	for _, f := range formats.All() {
		savings := "-"
		if s, ok := rec.Savings[string(f)]; ok {
			savings = fmt.Sprintf("%.1f%%", s)
		}
		line := fmt.Sprintf("%-8s %8d %9s", f, counts[f], savings)
		if string(f) == rec.Recommended {
			b.WriteString(recommendedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if rec.Recommended != "" {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Recommended: %s (%d tokens)",
			recommendedStyle.Render(rec.Recommended), rec.MinTokens))
	}
	return b.String()
}

// readInput reads content from a file or stdin
func readInput(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", errors.NewInputError(fmt.Sprintf("file not found: %s", path), errors.ErrFileNotFound)
			}
			return "", errors.NewInputError(fmt.Sprintf("failed to read file '%s'", path), err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", errors.NewInputError(fmt.Sprintf("file is empty: %s", path), errors.ErrFileEmpty)
		}
		return string(data), nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", errors.NewInputError("failed to access stdin", err)
	}

	if (stdinInfo.Mode() & os.ModeCharDevice) != 0 {
		// Terminal is interactive (not piped)
		return readInteractiveInput()
	}

	// Read from stdin (piped input)
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", errors.NewInputError("failed to read from stdin", err)
	}
	if len(data) == 0 {
		return "", errors.NewInputError("empty input received from stdin", errors.ErrEmptyInput)
	}
	return string(data), nil
}

// writeOutput writes text to a file or stdout
func writeOutput(text, path string) error {
	if path != "" {
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			return errors.NewOutputError(fmt.Sprintf("failed to write to file '%s'", path), err)
		}
		fmt.Fprintf(os.Stderr, "Output written to %s\n", path)
		return nil
	}

	_, err := fmt.Println(strings.TrimSpace(text))
	if err != nil {
		return errors.NewOutputError("failed to write to stdout", err)
	}
	return nil
}

// readInteractiveInput provides an interactive mode for users to paste
// content and signal completion with Ctrl+D (EOF)
func readInteractiveInput() (string, error) {
	fmt.Fprintln(os.Stderr, "TokenFusion Interactive Mode")
	fmt.Fprintln(os.Stderr, "Paste your content below and press Ctrl+D (or Ctrl+Z on Windows) when done:")

	reader := bufio.NewReader(os.Stdin)
	var builder strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			builder.WriteString(line)
			break
		}
		if err != nil {
			return "", errors.NewInputError("error reading input", err)
		}
		builder.WriteString(line)
	}

	content := builder.String()
	if strings.TrimSpace(content) == "" {
		return "", errors.NewInputError("empty input received", errors.ErrEmptyInput)
	}

	fmt.Fprintln(os.Stderr, "\nProcessing input...")
	return content, nil
}
