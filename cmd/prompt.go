package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// promptPolicy asks on the terminal for a replacement port, offering the
// next port as the default. Above the highest port there is no default and
// an empty answer asks again.
type promptPolicy struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPromptPolicy(in io.Reader, out io.Writer) *promptPolicy {
	return &promptPolicy{in: bufio.NewReader(in), out: out}
}

func (p *promptPolicy) NextPort(ctx context.Context, port int, cause error) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	def := port + 1
	hasDefault := def <= 65535

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if hasDefault {
			fmt.Fprintf(p.out, "Address already in use, try another port? [%d]: ", def)
		} else {
			fmt.Fprint(p.out, "Address already in use, try another port? ")
		}

		line, err := p.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if err != nil && (err != io.EOF || line == "") {
			fmt.Fprintln(p.out)
			return 0, fmt.Errorf("no replacement port given: %w", cause)
		}

		if line == "" {
			if hasDefault {
				return def, nil
			}
			continue
		}

		next, convErr := strconv.Atoi(line)
		if convErr != nil || next == 0 || ValidatePort(line) != nil {
			fmt.Fprintf(p.out, "%q is not a valid port\n", line)
			if err == io.EOF {
				return 0, fmt.Errorf("no replacement port given: %w", cause)
			}
			continue
		}
		return next, nil
	}
}
