package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/logutil"
	"screen-quiz-llm/src/screenshot"
)

const (
	maxFileSizeMB = 20
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

type cliOptions struct {
	filePath   string
	jsonOutput bool
	verbose    bool
	apiKeyPath string
}

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args), streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
}

func runWithArgs(args []string, std streams) error {
	if len(args) == 0 {
		args = []string{"quiz-answer"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts, std)
	cmd.SetArgs(args[1:])
	cmd.SetOut(std.out)
	cmd.SetErr(std.err)
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions, std streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "quiz-answer",
		Short:         "Answer the multiple-choice question in a screenshot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(cmd.Context(), *opts, std)
		},
	}

	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to screenshot (png, jpeg, gif, webp, bmp; '-' for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runWithOptions(ctx context.Context, opts cliOptions, std streams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Configure logging BEFORE any other operations.
	if opts.verbose {
		log.SetOutput(std.err)
		fmt.Fprintf(std.err, "[verbose] Starting quiz-answer\n")
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.verbose {
		fmt.Fprintf(std.err, "[verbose] Config loaded: Model=%s\n", cfg.Model)
		fmt.Fprintf(std.err, "[verbose] API key %s from %s\n", logutil.RedactKey(cfg.APIKey), orNone(cfg.APIKeySource))
	}

	shot, err := readScreenshot(opts.filePath, std.in)
	if err != nil {
		return err
	}
	if opts.verbose {
		fmt.Fprintf(std.err, "[verbose] Loaded %s\n", shot)
	}

	deadline := time.Duration(cfg.AnswerDeadlineSec) * time.Second
	req := answer.New(answer.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Prompt:     cfg.Prompt,
		HTTPClient: answer.NewHTTPClient(cfg.EnableHTTP2, deadline),
	})

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	text, err := req.Answer(ctx, shot)
	elapsed := time.Since(start)
	if err != nil {
		if opts.verbose {
			fmt.Fprintf(std.err, "[verbose] Request failed after %v: %v\n", elapsed, err)
		}
		return describeError(err)
	}
	if opts.verbose {
		fmt.Fprintf(std.err, "[verbose] Answer received in %v\n", elapsed)
	}

	return outputResult(std.out, text, opts.filePath, req.Model(), elapsed, opts.jsonOutput)
}

func readScreenshot(path string, stdin io.Reader) (screenshot.Screenshot, error) {
	var (
		data []byte
		err  error
	)
	source := path
	if path == "-" {
		source = "stdin"
		data, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return screenshot.Screenshot{}, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return screenshot.Screenshot{}, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil && info.Size() > maxFileSize {
			return screenshot.Screenshot{}, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
		}
		data, err = io.ReadAll(io.LimitReader(f, maxFileSize+1))
		if err != nil {
			return screenshot.Screenshot{}, fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}

	if len(data) == 0 {
		return screenshot.Screenshot{}, errors.New("input file is empty")
	}
	if len(data) > maxFileSize {
		return screenshot.Screenshot{}, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	shot, err := screenshot.FromBytes(data, source)
	if err != nil {
		return screenshot.Screenshot{}, fmt.Errorf("input is not a supported image: %w", err)
	}
	return shot, nil
}

// describeError prefixes the failure kind so scripts can tell them apart.
func describeError(err error) error {
	var (
		authErr    *answer.AuthError
		networkErr *answer.NetworkError
		modelErr   *answer.ModelError
	)
	switch {
	case errors.As(err, &authErr):
		return fmt.Errorf("auth: %w", err)
	case errors.As(err, &networkErr):
		return fmt.Errorf("network: %w", err)
	case errors.As(err, &modelErr):
		return fmt.Errorf("model: %w", err)
	default:
		return err
	}
}

type AnswerResult struct {
	Answer    string  `json:"answer"`
	Source    string  `json:"source"`
	Model     string  `json:"model"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration_seconds"`
}

func outputResult(w io.Writer, text, sourcePath, model string, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	result := AnswerResult{
		Answer:    text,
		Source:    sourcePath,
		Model:     model,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

var legacyFlags = []string{"file", "json", "verbose", "api-key-path"}

// normalizeLegacyArgs maps Go-style single-dash long flags (-file x) to the
// GNU form cobra expects.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range legacyFlags {
			switch {
			case arg == "-"+name:
				normalized[i] = "--" + name
			case strings.HasPrefix(arg, "-"+name+"="):
				normalized[i] = "-" + arg
			}
		}
	}
	return normalized
}

func orNone(s string) string {
	if s == "" {
		return "nowhere"
	}
	return s
}
