package modal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"moff.io/moff-defi/pkg/errors"
	"strconv"
	"strings"
	"sync"
)

// Chooser is the selection UI, it returns the id of one of options.
type Chooser interface {
	Choose(ctx context.Context, options []Option) (string, error)
}

type ChooserFunc func(ctx context.Context, options []Option) (string, error)

func (f ChooserFunc) Choose(ctx context.Context, options []Option) (string, error) {
	return f(ctx, options)
}

// StaticChooser always picks id, or the first option when id is empty.
func StaticChooser(id string) Chooser {
	return ChooserFunc(func(ctx context.Context, options []Option) (string, error) {
		if id != "" {
			return id, nil
		}
		if len(options) == 0 {
			return "", ErrNoOptions
		}
		return options[0].ID, nil
	})
}

// PromptChooser lists the options on Out and reads a number or an id from In. A Choose
// cancelled by its ctx leaves the read of In outstanding; the line it returns answers the next
// Choose instead of being lost.
type PromptChooser struct {
	In  io.Reader
	Out io.Writer

	mu      sync.Mutex
	reader  *bufio.Reader
	pending chan answer
}

type answer struct {
	line string
	err  error
}

// readLine starts a read unless the previous one is still outstanding. Callers hold c.mu.
func (c *PromptChooser) readLine() chan answer {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.In)
	}
	if c.pending == nil {
		done := make(chan answer, 1)
		reader := c.reader
		go func() {
			line, err := reader.ReadString('\n')
			done <- answer{line, err}
		}()
		c.pending = done
	}
	return c.pending
}

func (c *PromptChooser) Choose(ctx context.Context, options []Option) (string, error) {
	if len(options) == 0 {
		return "", ErrNoOptions
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.Out, "Select a wallet:")
	for i, o := range options {
		fmt.Fprintf(c.Out, "  %d) %s\n", i+1, o.Name)
	}
	fmt.Fprint(c.Out, "> ")

	var a answer
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a = <-c.readLine():
		c.pending = nil
	}
	line := strings.TrimSpace(a.line)
	if line == "" && a.err != nil {
		return "", a.err
	}
	if n, err := strconv.Atoi(line); err == nil {
		if n < 1 || n > len(options) {
			return "", errors.Errorf("choice %d out of range", n)
		}
		return options[n-1].ID, nil
	}
	for _, o := range options {
		if strings.EqualFold(o.ID, line) || strings.EqualFold(o.Name, line) {
			return o.ID, nil
		}
	}
	return "", ErrUnknownProvider
}
