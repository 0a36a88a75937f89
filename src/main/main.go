package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/clipboard"
	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/eventloop"
	"screen-quiz-llm/src/hotkey"
	"screen-quiz-llm/src/keystore"
	"screen-quiz-llm/src/logutil"
	"screen-quiz-llm/src/overlay"
	"screen-quiz-llm/src/session"
	"screen-quiz-llm/src/singleinstance"
	"screen-quiz-llm/src/tray"
)

const appTitle = "Screen Quiz LLM"

type mainOptions struct {
	captureMode   string
	screenshotDir string
	apiKeyPath    string
	setKey        string
	forgetKey     bool
	noTray        bool
	noWindow      bool
}

func main() {
	// systray and the hotkey hook want the process's first thread.
	runtime.LockOSThread()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"screen-quiz-llm"}
	}
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-quiz-llm",
		Short:         "Answer on-screen multiple-choice questions with a vision model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResident(cmd.Context(), *opts)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.Flags().StringVar(&opts.captureMode, "capture-mode", "", "screen, folder, watch, clipboard or select (overrides CAPTURE_MODE)")
	cmd.Flags().StringVar(&opts.screenshotDir, "screenshot-dir", "", "Folder scanned in folder/watch mode (overrides SCREENSHOT_DIR)")
	cmd.Flags().StringVar(&opts.setKey, "set-key", "", "Save an API key to the key store and exit")
	cmd.Flags().BoolVar(&opts.forgetKey, "forget-key", false, "Delete the saved API key and exit")
	cmd.Flags().BoolVar(&opts.noTray, "no-tray", false, "Do not show the tray icon")
	cmd.Flags().BoolVar(&opts.noWindow, "no-window", false, "Print overlay frames to stdout instead of drawing a window")

	for _, fc := range []struct {
		use, short, command string
	}{
		{"capture", "Ask the running instance to capture and answer", singleinstance.CommandCapture},
		{"reset", "Ask the running instance to clear its answer", singleinstance.CommandReset},
		{"status", "Show the running instance's state", singleinstance.CommandStatus},
	} {
		command := fc.command
		cmd.AddCommand(&cobra.Command{
			Use:   fc.use,
			Short: fc.short,
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				cfg, err := config.LoadWithOptions(config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath})
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				timeout := time.Duration(cfg.AnswerDeadlineSec)*time.Second + 5*time.Second
				ctx, cancel := context.WithTimeout(contextOr(c.Context()), timeout)
				defer cancel()
				return forward(ctx, singleinstance.NewClient(cfg.InstancePort), command, c.OutOrStdout())
			},
		})
	}
	return cmd
}

type commandSender interface {
	Send(ctx context.Context, cmd string) (bool, string, error)
}

// forward delivers one command to the resident and prints its reply.
func forward(ctx context.Context, client commandSender, command string, out io.Writer) error {
	delegated, text, err := client.Send(ctx, command)
	if !delegated {
		return errors.New("no running instance found")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

func runResident(ctx context.Context, opts mainOptions) error {
	enableDPIAwareness()

	cfg, err := config.LoadWithOptions(config.LoadOptions{
		APIKeyPathOverride:    opts.apiKeyPath,
		CaptureModeOverride:   opts.captureMode,
		ScreenshotDirOverride: opts.screenshotDir,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCloser := logutil.Setup(cfg.EnableFileLogging)
	defer logCloser.Close()

	store, err := keystore.New(cfg.KeystorePath)
	if err != nil {
		return fmt.Errorf("key store: %w", err)
	}
	if opts.setKey != "" {
		if err := store.Save(opts.setKey); err != nil {
			return err
		}
		fmt.Printf("API key saved to %s\n", store.Path())
		return nil
	}
	if opts.forgetKey {
		if err := store.Delete(); err != nil {
			return err
		}
		fmt.Printf("Saved API key removed from %s\n", store.Path())
		return nil
	}

	ctx, cancel := context.WithCancel(contextOr(ctx))
	defer cancel()

	srv := singleinstance.NewServer(cfg.InstancePort)
	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, singleinstance.ErrAlreadyRunning) {
			return fmt.Errorf("%w on port %d (use the capture, reset or status subcommands)", err, cfg.InstancePort)
		}
		log.Printf("Control port unavailable, continuing without it: %v", err)
		srv = nil
	}
	if srv != nil {
		defer srv.Close()
	}

	log.Printf("%s starting: model=%s capture=%s key=%s (%s)", appTitle, cfg.Model, cfg.CaptureMode,
		logutil.RedactKey(cfg.APIKey), cfg.APIKeySource)
	if cfg.APIKey == "" {
		log.Printf("No API key configured; cycles will report an auth error until one is set")
	}
	logMonitorConfiguration()

	src, err := capture.New(cfg)
	if err != nil {
		return err
	}
	if cfg.CopyAnswer || cfg.CaptureMode == config.CaptureModeClipboard {
		if err := clipboard.Init(); err != nil {
			log.Printf("Clipboard unavailable: %v", err)
		}
	}

	deadline := time.Duration(cfg.AnswerDeadlineSec) * time.Second
	req := answer.New(answer.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Prompt:     cfg.Prompt,
		HTTPClient: answer.NewHTTPClient(cfg.EnableHTTP2, deadline),
	})

	var trayIcon *tray.Tray
	var loop *eventloop.Loop
	if cfg.ShowTray && !opts.noTray {
		trayIcon = tray.New(tray.Config{
			Title:     appTitle,
			Tooltip:   appTitle,
			OnCapture: func() { loop.Post(eventloop.ActionCapture) },
			OnReset:   func() { loop.Post(eventloop.ActionReset) },
			OnExit:    cancel,
		})
		if srv != nil {
			trayIcon.SetAboutExtra(fmt.Sprintf("Control port: %d", srv.Port()))
		}
	}

	display, closeDisplay := buildDisplay(cfg, opts)
	defer closeDisplay()

	var onAnswer func(string)
	if cfg.CopyAnswer {
		onAnswer = func(text string) {
			if err := clipboard.Write(text); err != nil {
				log.Printf("Clipboard write failed: %v", err)
			}
		}
	}

	sess, err := session.New(session.Options{
		Source:   src,
		Answerer: req,
		Display:  display,
		Deadline: deadline,
		OnAnswer: onAnswer,
		Hints:    hintsFor(cfg),
	})
	if err != nil {
		return err
	}

	var files <-chan string
	if cfg.CaptureMode == config.CaptureModeWatch {
		w, err := capture.NewWatcher(cfg.ScreenshotDir, capture.DefaultSettle)
		if err != nil {
			return err
		}
		defer w.Close()
		w.Start(ctx)
		files = w.Events()
		log.Printf("Watching %s for new screenshots", cfg.ScreenshotDir)
	}

	loopOpts := eventloop.Options{
		Session: sess,
		Files:   files,
		Title:   appTitle,
		OnForgetKey: func() error {
			return store.Delete()
		},
	}
	if srv != nil {
		loopOpts.Server = srv
	}
	if trayIcon != nil {
		loopOpts.OnStatus = trayIcon.UpdateTooltip
	}
	loop = eventloop.New(loopOpts)

	err = hotkey.Listen(ctx, []hotkey.Binding{
		{Name: "capture", Combo: cfg.HotkeyCapture, OnPress: func() { loop.Post(eventloop.ActionCapture) }},
		{Name: "reset", Combo: cfg.HotkeyReset, OnPress: func() { loop.Post(eventloop.ActionReset) }},
		{Name: "forget-key", Combo: cfg.HotkeyForgetKey, OnPress: func() { loop.Post(eventloop.ActionForgetKey) }},
		{Name: "quit", Combo: cfg.HotkeyQuit, OnPress: func() { loop.Post(eventloop.ActionQuit) }},
	})
	if err != nil {
		return err
	}

	// Handle SIGINT/SIGTERM
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	if trayIcon == nil {
		return loopResult(loop.Run(ctx))
	}

	errc := make(chan error, 1)
	go func() {
		errc <- loop.Run(ctx)
		trayIcon.Quit()
	}()
	trayIcon.Run()
	cancel()
	return loopResult(<-errc)
}

// buildDisplay assembles the overlay sinks for this configuration.
func buildDisplay(cfg *config.Config, opts mainOptions) (overlay.Display, func()) {
	var displays overlay.Multi
	closeFn := func() {}

	if !opts.noWindow {
		w, err := overlay.NewWindow(overlay.WindowOptions{X: cfg.OverlayX, Y: cfg.OverlayY, MaxWidth: 800})
		switch {
		case err == nil:
			displays = append(displays, w)
			closeFn = func() { _ = w.Close() }
		case errors.Is(err, overlay.ErrUnsupported):
			log.Printf("Overlay window unsupported here, printing frames to stdout")
			displays = append(displays, overlay.NewTerminal(os.Stdout))
		default:
			log.Printf("Overlay window failed, printing frames to stdout: %v", err)
			displays = append(displays, overlay.NewTerminal(os.Stdout))
		}
	} else {
		displays = append(displays, overlay.NewTerminal(os.Stdout))
	}

	if cfg.Notify {
		displays = append(displays, overlay.NewNotifier(appTitle))
	}
	return displays, closeFn
}

func hintsFor(cfg *config.Config) session.Hints {
	var idle []string
	if cfg.HotkeyCapture != "" {
		idle = append(idle, cfg.HotkeyCapture+": capture")
	}
	if cfg.HotkeyQuit != "" {
		idle = append(idle, cfg.HotkeyQuit+": quit")
	}
	h := session.Hints{Idle: strings.Join(idle, "   ")}
	if cfg.HotkeyReset != "" {
		h.Shown = cfg.HotkeyReset + ": reset"
	}
	return h
}

func loopResult(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		log.Printf("%s stopped", appTitle)
		return nil
	}
	return err
}

func contextOr(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

var legacyFlags = []string{
	"capture-mode", "screenshot-dir", "api-key-path", "set-key",
	"forget-key", "no-tray", "no-window",
}

// normalizeLegacyArgs maps Go-style single-dash long flags to the GNU form.
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
