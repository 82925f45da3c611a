package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"presence/internal/client"
	"presence/internal/model"
	"presence/internal/outbox"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	api       *client.Client
	queue     *outbox.Queue
	monitor   *outbox.ProbeMonitor
	tokenPath string
	out       io.Writer
	now       func() time.Time
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login [-passphrase P]                          - open a session (prompts when omitted)")
	fmt.Fprintln(cli.out, "  logout                                         - forget the stored session")
	fmt.Fprintln(cli.out, "  classes                                        - sessions and formation window")
	fmt.Fprintln(cli.out, "  students list [-class C]                       - list students")
	fmt.Fprintln(cli.out, "  students add -first F -last L -class C         - register a student")
	fmt.Fprintln(cli.out, "  students update -id ID [-first F] [-last L] [-class C]")
	fmt.Fprintln(cli.out, "  students delete -id ID                         - remove a student and their records")
	fmt.Fprintln(cli.out, "  students import -file FILE.xlsx                - bulk import from a spreadsheet")
	fmt.Fprintln(cli.out, "  mark -class C [-date D] -present ID[@HH:mm],... - save a day's attendance")
	fmt.Fprintln(cli.out, "  records [-date D] [-class C]                   - list attendance records")
	fmt.Fprintln(cli.out, "  stats global|class C|today C|student ID|at-risk [-n N]")
	fmt.Fprintln(cli.out, "  export -kind students|summary [-class C] -o FILE.xlsx")
	fmt.Fprintln(cli.out, "  settings list | settings set -key K -value V")
	fmt.Fprintln(cli.out, "  outbox status|flush|retry ID|discard ID        - manage offline changes")
	fmt.Fprintln(cli.out, "Mutating commands accept -offline to queue without contacting the API.")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "login":
		return cli.login(ctx, args[2:])
	case "logout":
		return cli.logout()
	case "classes":
		return cli.classes(ctx)
	case "students":
		return cli.students(ctx, args[2:])
	case "mark":
		return cli.mark(ctx, args[2:])
	case "records":
		return cli.records(ctx, args[2:])
	case "stats":
		return cli.stats(ctx, args[2:])
	case "export":
		return cli.export(ctx, args[2:])
	case "settings":
		return cli.settings(ctx, args[2:])
	case "outbox":
		return cli.outbox(ctx, args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) login(ctx context.Context, args []string) error {
	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginCmd.SetOutput(cli.out)
	passphrase := loginCmd.String("passphrase", "", "Shared staff passphrase. Prompted when omitted.")
	if err := loginCmd.Parse(args); err != nil {
		return errHelp
	}

	pass := *passphrase
	if pass == "" {
		fmt.Fprint(cli.out, "Enter passphrase:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		pass = string(pwd)
	}
	if pass == "" {
		loginCmd.Usage()
		return errHelp
	}

	s, err := cli.api.Login(ctx, pass)
	if err != nil {
		return err
	}
	if err := client.SaveSession(cli.tokenPath, s); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "logged in until %s\n", s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func (cli *commandLine) logout() error {
	if err := client.ClearSession(cli.tokenPath); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "logged out")
	return nil
}

// mutate runs an API call, falling back to the outbox when the API cannot
// be reached. While older changes are still queued new ones are queued
// behind them so the API sees them in order.
func (cli *commandLine) mutate(ctx context.Context, offline bool, typ outbox.Type, payload any, call func(ctx context.Context) error) error {
	if !offline && cli.drain(ctx) {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if !client.IsUnreachable(err) {
			return fmt.Errorf("could not save: %w", err)
		}
		logger.Printf("api unreachable, queueing: %v", err)
	}
	item, err := cli.queue.Enqueue(ctx, typ, payload)
	if err != nil {
		return fmt.Errorf("could not save: %w", err)
	}
	fmt.Fprintf(cli.out, "saved locally, will sync later (%s)\n", item.ID)
	return nil
}

// drain reports whether the API is reachable with nothing left queued,
// flushing the outbox first if needed.
func (cli *commandLine) drain(ctx context.Context) bool {
	if !cli.monitor.Check(ctx) {
		return false
	}
	if len(cli.queue.Pending(ctx)) == 0 {
		return true
	}
	res, err := cli.queue.Flush(ctx)
	if err != nil {
		logger.Printf("flush: %v", err)
		return false
	}
	if res.Replayed > 0 {
		fmt.Fprintf(cli.out, "synced %d queued change(s)\n", res.Replayed)
	}
	return res.Remaining == 0 && !res.Skipped
}

func parseClass(v string, required bool) (model.ClassID, error) {
	if v == "" {
		if required {
			return "", errors.New("-class is required (morning or afternoon)")
		}
		return "", nil
	}
	return model.ParseClassID(classAlias(v))
}

// classAlias accepts the French labels staff type.
func classAlias(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "matin", "am":
		return string(model.Morning)
	case "apres-midi", "après-midi", "pm":
		return string(model.Afternoon)
	}
	return v
}
