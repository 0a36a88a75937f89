package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"screen-quiz-llm/src/session"
	"screen-quiz-llm/src/singleinstance"
)

type stressOptions struct {
	n        int
	port     int
	command  string
	reset    bool
	deadline time.Duration
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeBusy
	outcomeResetRequired
	outcomeNoResident
	outcomeError
)

type tally struct {
	ok, busy, resetRequired, noResident, failed atomic.Int32
}

func (t *tally) add(o outcome) {
	switch o {
	case outcomeOK:
		t.ok.Add(1)
	case outcomeBusy:
		t.busy.Add(1)
	case outcomeResetRequired:
		t.resetRequired.Add(1)
	case outcomeNoResident:
		t.noResident.Add(1)
	default:
		t.failed.Add(1)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-capture",
		Short:         "Fire concurrent commands at the running instance to check single-flight",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := singleinstance.NewClient(opts.port)
			return runWithOptions(cmd.Context(), client, *opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of concurrent clients")
	cmd.Flags().IntVar(&opts.port, "port", singleinstance.DefaultPort, "control port of the running instance")
	cmd.Flags().StringVar(&opts.command, "command", singleinstance.CommandCapture, "CAPTURE, RESET or STATUS")
	cmd.Flags().BoolVar(&opts.reset, "reset", true, "send RESET before the burst")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 90*time.Second, "per-client timeout")

	return cmd
}

func runWithOptions(ctx context.Context, client singleinstance.Client, opts stressOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.reset {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		delegated, _, err := client.Send(rctx, singleinstance.CommandReset)
		cancel()
		if !delegated {
			return fmt.Errorf("no running instance on port %d", opts.port)
		}
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	var (
		wg     sync.WaitGroup
		counts tally
	)
	command := strings.ToUpper(opts.command)
	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()
			delegated, _, err := client.Send(cctx, command)
			counts.add(classify(delegated, err))
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Fprintf(out, "launched=%d ok=%d busy=%d reset-required=%d no-resident=%d err=%d elapsed=%s\n",
		opts.n, counts.ok.Load(), counts.busy.Load(), counts.resetRequired.Load(),
		counts.noResident.Load(), counts.failed.Load(), elapsed)
	if command == singleinstance.CommandCapture && counts.ok.Load() > 1 {
		return fmt.Errorf("%d captures succeeded in one burst, expected at most one", counts.ok.Load())
	}
	return nil
}

// classify maps one reply to a bucket. Errors travel as plain text over the
// control port so rejections are matched on their message.
func classify(delegated bool, err error) outcome {
	switch {
	case !delegated:
		return outcomeNoResident
	case err == nil:
		return outcomeOK
	case err.Error() == session.ErrBusy.Error():
		return outcomeBusy
	case err.Error() == session.ErrResetRequired.Error():
		return outcomeResetRequired
	default:
		return outcomeError
	}
}
