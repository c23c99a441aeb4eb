// Package console is a line-oriented terminal front end for a live session.
//
// It reads prompts from an input stream, submits them, and streams the
// agent's intermediate thoughts to the output while the response is being
// produced. The words exit, quit and bye end the loop.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/agentweave/core"
)

// Session is the slice of a live session the console drives. *runner.Session
// satisfies it.
type Session interface {
	SubmitPrompt(ctx context.Context, prompt any) (string, error)
	PollThoughts(ctx context.Context, watermark int) ([]string, error)
}

// Options configures a console.
type Options struct {
	// PollInterval is how often thoughts are polled while a prompt is in
	// flight.
	PollInterval time.Duration

	// Input is the stream prompts are read from.
	Input io.Reader

	// Output is the stream thoughts and responses are written to.
	Output io.Writer

	// ThoughtPrefix is printed before each thought line.
	ThoughtPrefix string
}

// Console runs an interactive prompt loop against one session.
type Console struct {
	session   Session
	interval  time.Duration
	in        io.Reader
	out       io.Writer
	prefix    string
	watermark int
}

// New creates a console for the given session.
func New(session Session, optFns ...func(o *Options)) *Console {
	opts := Options{
		PollInterval:  2 * time.Second,
		Input:         os.Stdin,
		Output:        os.Stdout,
		ThoughtPrefix: "~ ",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Console{
		session:  session,
		interval: opts.PollInterval,
		in:       opts.Input,
		out:      opts.Output,
		prefix:   opts.ThoughtPrefix,
	}
}

// Run reads prompts until an exit word, end of input, or a failed exchange.
// Reaching end of input without an exit word is a normal stop.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "exit", "quit", "bye":
			fmt.Fprintln(c.out, "bye")
			return nil
		}

		if err := c.exchange(ctx, line); err != nil {
			return err
		}
	}
}

// exchange submits one prompt, streaming thoughts while it is in flight.
func (c *Console) exchange(ctx context.Context, prompt string) error {
	pollCtx, stopPolling := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.poll(pollCtx)
	}()

	response, err := c.session.SubmitPrompt(ctx, prompt)
	stopPolling()
	<-done

	if err != nil {
		return fmt.Errorf("console: prompt failed: %w", err)
	}

	c.drain(ctx, response)
	fmt.Fprintf(c.out, "\n%s\n\n", response)
	return nil
}

// poll periodically displays new thought lines until canceled.
func (c *Console) poll(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lines, err := c.session.PollThoughts(ctx, c.watermark)
			if err != nil || len(lines) == 0 {
				continue
			}
			c.printThoughts(lines)
			c.watermark += len(lines)
		}
	}
}

// drain shows thoughts that arrived after the last poll and moves the
// watermark past the response's own lines, which the response print covers.
func (c *Console) drain(ctx context.Context, response string) {
	lines, err := c.session.PollThoughts(ctx, c.watermark)
	if err != nil {
		return
	}

	show := lines
	if tail := len(core.ThoughtLines(response)); tail > 0 && len(lines) >= tail {
		show = lines[:len(lines)-tail]
	}
	c.printThoughts(show)
	c.watermark += len(lines)
}

func (c *Console) printThoughts(lines []string) {
	for _, line := range lines {
		fmt.Fprintf(c.out, "\n%s%s\n", c.prefix, line)
	}
}
