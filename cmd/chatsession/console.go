package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/c360/chatsession/feature/alarms"
	"github.com/c360/chatsession/session"
)

// console reads commands from an operator, one per line.
type console struct {
	session *session.Session
	alarms  *alarms.Module
	out     io.Writer
	mu      sync.Mutex
}

func newConsole(s *session.Session, am *alarms.Module, out io.Writer) *console {
	return &console{session: s, alarms: am, out: out}
}

// parseLine splits a console line into a lowercased verb and its arguments.
func parseLine(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// run reads lines from in until EOF, a quit command or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errs
			}
			quit, err := c.execute(ctx, line)
			if err != nil {
				c.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs a single console line and reports whether the console should stop.
func (c *console) execute(ctx context.Context, line string) (bool, error) {
	verb, args := parseLine(line)
	switch verb {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "?":
		c.printHelp()
		return false, nil
	case "ping":
		return false, c.session.SendPing(ctx)
	case "subscribe":
		return false, c.session.Subscribe(ctx)
	case "status":
		if status, ok := c.session.Status(); ok {
			c.printf("%s\n", status.Details("\n"))
		}
		return false, c.session.RequestStatus(ctx)
	case "health":
		h := c.session.Health()
		c.printf("ready=%t responding=%t last_sent=%s last_received=%s\n",
			c.session.Ready(), h.Responding, formatTime(h.LastSent), formatTime(h.LastReceived))
		if err := c.session.Err(); err != nil {
			c.printf("last error: %v\n", err)
		}
		return false, nil
	}

	if c.alarms != nil {
		if handled, err := c.alarmCommand(ctx, verb, args); handled {
			return false, err
		}
	}
	return false, c.session.SendCommand(ctx, line)
}

func (c *console) alarmCommand(ctx context.Context, verb string, args []string) (bool, error) {
	switch verb {
	case "alarms":
		if len(args) > 0 && strings.EqualFold(args[0], "refresh") {
			return true, c.alarms.RequestAlarmsList(ctx)
		}
		for _, a := range c.alarms.Alarms() {
			c.printf("%s\n", a)
		}
		return true, nil
	case "alert":
		if a, ok := c.alarms.AlertedAlarm(); ok {
			c.printf("%s\n", a)
		} else {
			c.printf("no alarm\n")
		}
		return true, nil
	case alarms.CommandTestAlarm:
		if len(args) == 0 {
			return true, fmt.Errorf("usage: %s <id> [seconds]", alarms.CommandTestAlarm)
		}
		d, err := optionalSeconds(args[1:])
		if err != nil {
			return true, err
		}
		return true, c.alarms.TestAlarm(ctx, args[0], d)
	case alarms.CommandTestBuzzer, alarms.CommandTestPilot, alarms.CommandSilence:
		d, err := optionalSeconds(args)
		if err != nil {
			return true, err
		}
		switch verb {
		case alarms.CommandTestBuzzer:
			return true, c.alarms.TestBuzzer(ctx, d)
		case alarms.CommandTestPilot:
			return true, c.alarms.TestPilot(ctx, d)
		default:
			return true, c.alarms.Silence(ctx, d)
		}
	case alarms.CommandUnsilence:
		return true, c.alarms.Unsilence(ctx)
	}
	return false, nil
}

func optionalSeconds(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return alarms.ParseSeconds(args[0])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func (c *console) printHelp() {
	c.printf("ping | status | health | subscribe | quit\n")
	for _, m := range c.session.Modules() {
		for _, cmd := range m.Commands() {
			c.printf("%-14s %s\n", cmd.Usage, cmd.Description)
		}
	}
	c.printf("anything else is sent to %s as a command\n", c.session.Peer())
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// consoleSink prints every published value as a JSON line.
func consoleSink(out io.Writer) session.Sink {
	var mu sync.Mutex
	return session.SinkFunc(func(_ context.Context, key string, value any) error {
		data, err := json.Marshal(session.NewRecord(key, value, time.Now()))
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	})
}
