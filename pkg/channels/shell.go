package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ShellChannel is an interactive stdin/stdout REPL. It is the default
// channel when the daemon runs in a terminal.
type ShellChannel struct {
	in     io.Reader
	out    io.Writer
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewShellChannel creates a shell channel over stdin/stdout.
func NewShellChannel() *ShellChannel {
	return &ShellChannel{
		in:  os.Stdin,
		out: os.Stdout,
	}
}

// Name returns the channel name.
func (c *ShellChannel) Name() string {
	return "shell"
}

// Start launches the read loop. It returns immediately; the loop runs until
// stdin closes, the context ends, or Stop is called.
func (c *ShellChannel) Start(ctx context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.readLoop(loopCtx, dispatch)
	return nil
}

func (c *ShellChannel) readLoop(ctx context.Context, dispatch DispatchFunc) {
	defer close(c.done)

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprint(c.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			fmt.Fprintln(c.out, "Bye.")
			return
		}

		reply, err := dispatch(ctx, InboundMessage{
			Channel:  c.Name(),
			SenderID: "local",
			Content:  line,
		})
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		} else if reply != "" {
			fmt.Fprintln(c.out, reply)
		}
		fmt.Fprint(c.out, "> ")
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("Shell channel read failed")
	}
}

// Stop ends the read loop.
func (c *ShellChannel) Stop(ctx context.Context) error {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}
