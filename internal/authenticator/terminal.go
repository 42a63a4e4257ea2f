package authenticator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/quantumauth-io/gmgn-wallet/internal/securefile"
	"golang.org/x/term"
)

const minPINLength = 6

// TerminalPresence asks for a y/N confirmation on a terminal. Answers are read
// through one buffered reader, so piped input survives across prompts.
type TerminalPresence struct {
	In  io.Reader
	Out io.Writer

	mu      sync.Mutex
	r       *bufio.Reader
	pending chan lineResult // read left running by a cancelled prompt
}

func NewTerminalPresence() *TerminalPresence {
	return &TerminalPresence{In: os.Stdin, Out: os.Stderr}
}

func (t *TerminalPresence) Confirm(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, _ = fmt.Fprintf(t.Out, "%s [y/N]: ", reason)

	line, err := t.readLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrCancelled
		}
		return err
	}
	s := strings.TrimSpace(strings.ToLower(line))
	if s == "y" || s == "yes" {
		return nil
	}
	return ErrCancelled
}

// TerminalPIN reads a PIN without echo.
type TerminalPIN struct {
	FD  int
	Out io.Writer
}

func NewTerminalPIN() *TerminalPIN {
	return &TerminalPIN{FD: int(os.Stdin.Fd()), Out: os.Stderr}
}

func (t *TerminalPIN) PIN(ctx context.Context, prompt string, confirm bool) ([]byte, error) {
	if !term.IsTerminal(t.FD) {
		return nil, fmt.Errorf("%w: PIN entry needs a terminal", ErrUnavailable)
	}

	pin, err := t.read(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if len(pin) < minPINLength {
		securefile.ZeroBytes(pin)
		return nil, fmt.Errorf("PIN must be at least %d characters", minPINLength)
	}
	if !confirm {
		return pin, nil
	}

	again, err := t.read(ctx, "Repeat PIN: ")
	if err != nil {
		securefile.ZeroBytes(pin)
		return nil, err
	}
	defer securefile.ZeroBytes(again)
	if !bytes.Equal(pin, again) {
		securefile.ZeroBytes(pin)
		return nil, errors.New("PINs do not match")
	}
	return pin, nil
}

func (t *TerminalPIN) read(ctx context.Context, prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(t.Out, prompt)

	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := term.ReadPassword(t.FD)
		ch <- result{b, err}
	}()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(t.Out)
		return nil, ErrCancelled
	case r := <-ch:
		_, _ = fmt.Fprintln(t.Out) // best-effort newline
		if r.err != nil {
			securefile.ZeroBytes(r.b)
			return nil, fmt.Errorf("PIN input failed: %w", r.err)
		}
		if len(r.b) == 0 {
			return nil, ErrCancelled
		}
		return r.b, nil
	}
}

type lineResult struct {
	s   string
	err error
}

// readLine must be called with t.mu held. A read abandoned on cancellation is
// picked up by the next prompt instead of racing a second reader.
func (t *TerminalPresence) readLine(ctx context.Context) (string, error) {
	if t.r == nil {
		t.r = bufio.NewReader(t.In)
	}
	ch := t.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		r := t.r
		go func() {
			s, err := r.ReadString('\n')
			ch <- lineResult{s, err}
		}()
	}

	select {
	case <-ctx.Done():
		t.pending = ch
		return "", ErrCancelled
	case res := <-ch:
		t.pending = nil
		if res.err != nil && !(errors.Is(res.err, io.EOF) && res.s != "") {
			return "", res.err
		}
		return res.s, nil
	}
}
