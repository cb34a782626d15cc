// Package interactive forwards lines typed by a user to a service, one call
// per line, and prints what comes back.
package interactive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"socketrpc/client"
	"socketrpc/codec"
	"socketrpc/transport"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DefaultPrompt is shown before every line.
const DefaultPrompt = "> "

// ClosedByRemote is printed once when the service ends the connection.
const ClosedByRemote = "closed by remote"

// LineSource is where lines come from. Lines is closed when the input ends.
type LineSource interface {
	Prompt(prompt string)
	Lines() <-chan string
}

// ScannerSource reads lines from r and writes prompts to w.
type ScannerSource struct {
	w     io.Writer
	mu    sync.Mutex
	lines chan string
	stop  chan struct{}
	once  sync.Once
}

// NewScannerSource starts reading r in the background. The reader goroutine
// ends when r does, or at the next line after Close.
func NewScannerSource(r io.Reader, w io.Writer) *ScannerSource {
	s := &ScannerSource{w: w, lines: make(chan string), stop: make(chan struct{})}
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case s.lines <- scanner.Text():
			case <-s.stop:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithField("error", err).Warn("input read failed")
		}
	}()
	return s
}

// Close stops handing out lines. It does not close the underlying reader.
func (s *ScannerSource) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *ScannerSource) Prompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, prompt)
}

func (s *ScannerSource) Lines() <-chan string {
	return s.lines
}

type options struct {
	prompt  string
	clients []client.Option
}

// Option configures Run.
type Option func(*options)

// WithPrompt replaces DefaultPrompt.
func WithPrompt(prompt string) Option {
	return func(o *options) {
		o.prompt = prompt
	}
}

// WithClientOptions passes options to the underlying connection.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) {
		o.clients = append(o.clients, opts...)
	}
}

// Run connects to address and forwards every line from src as a string
// request until src closes, ctx is done or the service hangs up. ok is false
// when no connection could be made; that failure is logged, not returned.
func Run(ctx context.Context, address string, src LineSource, out io.Writer, opts ...Option) (ok bool, err error) {
	o := options{prompt: DefaultPrompt}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := client.Dial(ctx, address, o.clients...)
	if err != nil {
		log.WithFields(log.Fields{"addr": address, "error": err}).Error("connect failed")
		return false, nil
	}
	defer c.Close()

	return true, loop(ctx, c, src, out, o.prompt)
}

func loop(ctx context.Context, c *client.Client, src LineSource, out io.Writer, prompt string) error {
	for {
		src.Prompt(prompt)
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			fmt.Fprintln(out, ClosedByRemote)
			return nil
		case line, ok := <-src.Lines():
			if !ok {
				return nil
			}
			select {
			case <-c.Done():
				fmt.Fprintln(out, ClosedByRemote)
				return nil
			default:
			}
			body, err := c.Call(ctx, line)
			if err == nil {
				fmt.Fprintln(out, Render(body))
				continue
			}

			var re *codec.RemoteError
			switch {
			case errors.As(err, &re):
				fmt.Fprintf(out, "%s: %s\n", re.Kind, re.Message)
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				return err
			case errors.Is(err, transport.ErrConnectionClosed), isDone(c):
				fmt.Fprintln(out, ClosedByRemote)
				return nil
			default:
				return err
			}
		}
	}
}

func isDone(c *client.Client) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Render formats a response body for a terminal: strings print without
// quotes, everything else as compact JSON.
func Render(body json.RawMessage) string {
	result := gjson.ParseBytes(body)
	if result.Type == gjson.String {
		return result.String()
	}
	if !result.Exists() {
		return "null"
	}
	return result.Raw
}
