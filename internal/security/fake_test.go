package security

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/muurk/loxone/internal/protocol"
)

type sentCommand struct {
	cmd     string
	encrypt bool
}

// fakeSender answers commands by prefix. Handlers return the reply code and
// a JSON value.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentCommand
	handlers map[string]func(cmd string) (int, string)
	httpBody []byte
	httpErr  error
}

func newFakeSender() *fakeSender {
	return &fakeSender{handlers: make(map[string]func(string) (int, string))}
}

func (f *fakeSender) on(prefix string, h func(cmd string) (int, string)) {
	f.handlers[prefix] = h
}

func (f *fakeSender) reply(prefix string, code int, value string) {
	f.on(prefix, func(string) (int, string) { return code, value })
}

func (f *fakeSender) SendCommand(ctx context.Context, cmd string, encrypt bool) (*protocol.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentCommand{cmd: cmd, encrypt: encrypt})
	var handler func(string) (int, string)
	best := ""
	for prefix, h := range f.handlers {
		if strings.HasPrefix(cmd, prefix) && len(prefix) > len(best) {
			best, handler = prefix, h
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return nil, fmt.Errorf("unexpected command %q", cmd)
	}
	code, value := handler(cmd)
	if value == "" {
		value = `""`
	}
	return &protocol.Response{Control: cmd, Code: code, Value: json.RawMessage(value)}, nil
}

func (f *fakeSender) HTTPGet(ctx context.Context, path string) ([]byte, error) {
	return f.httpBody, f.httpErr
}

func (f *fakeSender) commands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

func (f *fakeSender) find(prefix string) (sentCommand, bool) {
	for _, c := range f.commands() {
		if strings.HasPrefix(c.cmd, prefix) {
			return c, true
		}
	}
	return sentCommand{}, false
}

func (f *fakeSender) count(prefix string) int {
	n := 0
	for _, c := range f.commands() {
		if strings.HasPrefix(c.cmd, prefix) {
			n++
		}
	}
	return n
}
