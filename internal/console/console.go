// Package console is a line-oriented front-end for one expense store.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"familybudget/internal/aggregate"
	"familybudget/internal/client"
	"familybudget/internal/core"
	"familybudget/internal/log"
	"familybudget/internal/store"
)

const barWidth = 30

// Authenticator logs the tab in.
type Authenticator interface {
	Login(ctx context.Context, email, password string) error
}

// PasswordReader returns a password without echoing it when possible.
type PasswordReader func() (string, error)

// Console reads commands from in and writes results to out.
type Console struct {
	store    *store.Store
	auth     Authenticator
	in       *bufio.Scanner
	out      io.Writer
	password PasswordReader
	logger   *log.Logger

	selection store.Selection
	edit      *store.EditSession
}

// Option configures a Console.
type Option func(*Console)

// WithPasswordReader overrides how passwords are read.
func WithPasswordReader(r PasswordReader) Option {
	return func(c *Console) { c.password = r }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Console) { c.logger = l.WithComponent(log.ComponentConsole) }
}

// New creates a console over st. Passwords are read as plain lines from in
// unless WithPasswordReader is given.
func New(st *store.Store, auth Authenticator, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		store:  st,
		auth:   auth,
		in:     bufio.NewScanner(in),
		out:    out,
		logger: log.Discard().WithComponent(log.ComponentConsole),
	}
	c.password = c.readLine
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TerminalPassword reads a password from the terminal at fd with echo off.
func TerminalPassword(fd int, prompt io.Writer) PasswordReader {
	return func() (string, error) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		return string(b), err
	}
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// Run processes commands until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	unsubscribe := c.store.Subscribe(func(snap store.Snapshot) {
		fmt.Fprintf(c.out, "  %d expenses, total %s\n", len(snap.Items), money(snap.Summary.Total))
	})
	defer unsubscribe()

	fmt.Fprintln(c.out, "Type 'help' for commands.")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(c.out, "> ")
		line, err := c.readLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return err
		}
		if quit := c.Execute(ctx, line); quit {
			return nil
		}
	}
}

func (c *Console) readLine() (string, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		c.help()
	case "quit", "exit":
		return true
	case "login":
		c.login(ctx, args)
	case "load", "reload":
		c.load(ctx)
	case "list", "ls":
		c.list(args)
	case "add":
		c.add(ctx, args)
	case "edit":
		c.startEdit(ctx, args)
	case "save":
		c.saveEdit(ctx)
	case "cancel":
		c.cancelEdit()
	case "rm", "delete":
		c.remove(ctx, args)
	case "totals":
		c.totals()
	case "chart":
		c.chart()
	default:
		fmt.Fprintf(c.out, "Unknown command %q. Type 'help'.\n", cmd)
	}
	return false
}

func (c *Console) help() {
	fmt.Fprint(c.out, `Commands:
  login [email]                          sign in
  load                                   fetch expenses
  list [category|all]                    show expenses, optionally filtered
  add <amount> <category> <title...>     record an expense
  edit <id> <amount> <category> <title...>
  save | cancel                          retry or drop a failed edit
  rm <id>                                delete an expense
  totals                                 totals per category
  chart                                  category breakdown
  quit
Categories: `+categoryNames()+"\n")
}

func (c *Console) login(ctx context.Context, args []string) {
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		fmt.Fprint(c.out, "Email: ")
		line, err := c.readLine()
		if err != nil {
			return
		}
		email = line
	}
	fmt.Fprint(c.out, "Password: ")
	password, err := c.password()
	if err != nil {
		fmt.Fprintln(c.out, "Could not read password.")
		return
	}
	if strings.TrimSpace(email) == "" || password == "" {
		fmt.Fprintln(c.out, "Email and password are required.")
		return
	}

	if err := c.auth.Login(ctx, email, password); err != nil {
		c.logger.WarnContext(ctx, "Login failed", log.FieldOperation, log.OpLogin, log.FieldError, err)
		if errors.Is(err, client.ErrUnavailable) {
			fmt.Fprintln(c.out, "Backend unavailable, try again later.")
			return
		}
		fmt.Fprintln(c.out, "Invalid email or password.")
		return
	}
	fmt.Fprintln(c.out, "Logged in.")
	c.load(ctx)
}

func (c *Console) load(ctx context.Context) {
	if err := c.store.Load(ctx); err != nil {
		c.report(ctx, "load", err)
		return
	}
	c.list(nil)
}

func (c *Console) list(args []string) {
	if len(args) > 0 {
		sel, err := store.ParseSelection(strings.Join(args, " "))
		if err != nil {
			fmt.Fprintf(c.out, "%v. Categories: %s\n", err, categoryNames())
			return
		}
		c.selection = sel
	}

	items := c.store.Visible(c.selection)
	if len(items) == 0 {
		fmt.Fprintln(c.out, "No expenses.")
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tCATEGORY\tAMOUNT\tTITLE")
	total := decimal.Zero
	for _, e := range items {
		total = total.Add(e.Amount)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, day(e.CreatedAt), e.Category, money(e.Amount), e.Title)
	}
	_ = tw.Flush()
	fmt.Fprintf(c.out, "Showing %s: %d expenses, %s\n", c.selection, len(items), money(total))
}

// parseDraft reads "<amount> <category> <title...>".
func (c *Console) parseDraft(args []string) (core.Draft, bool) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "Expected: <amount> <category> <title...>")
		return core.Draft{}, false
	}
	amount, err := core.ParseAmount(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "Amount must be a positive number.")
		return core.Draft{}, false
	}
	cat, ok := core.ParseCategory(args[1])
	if !ok {
		fmt.Fprintf(c.out, "Unknown category %q. Categories: %s\n", args[1], categoryNames())
		return core.Draft{}, false
	}
	d := core.Draft{Title: strings.Join(args[2:], " "), Amount: amount, Category: cat}
	if err := d.Validate(); err != nil {
		fmt.Fprintf(c.out, "Invalid expense: %v.\n", err)
		return core.Draft{}, false
	}
	return d, true
}

func (c *Console) add(ctx context.Context, args []string) {
	d, ok := c.parseDraft(args)
	if !ok {
		return
	}
	e, err := c.store.Add(ctx, d)
	if err != nil {
		c.report(ctx, "add", err)
		return
	}
	fmt.Fprintf(c.out, "Added %s: %s %s (%s)\n", e.ID, e.Title, money(e.Amount), e.Category)
}

func (c *Console) startEdit(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Expected: edit <id> <amount> <category> <title...>")
		return
	}
	d, ok := c.parseDraft(args[1:])
	if !ok {
		return
	}
	es, err := c.store.StartEdit(core.ID(args[0]))
	if err != nil {
		fmt.Fprintf(c.out, "No expense with id %s.\n", args[0])
		return
	}
	es.Set(d)
	c.edit = es
	c.saveEdit(ctx)
}

func (c *Console) saveEdit(ctx context.Context) {
	if c.edit == nil {
		fmt.Fprintln(c.out, "Nothing to save.")
		return
	}
	e, err := c.edit.Save(ctx)
	if err != nil {
		if errors.Is(err, store.ErrEditClosed) {
			c.edit = nil
			fmt.Fprintln(c.out, "Edit no longer open.")
			return
		}
		c.report(ctx, "edit", err)
		fmt.Fprintln(c.out, "Edit kept open: 'save' to retry, 'cancel' to drop it.")
		return
	}
	c.edit = nil
	fmt.Fprintf(c.out, "Updated %s: %s %s (%s)\n", e.ID, e.Title, money(e.Amount), e.Category)
}

func (c *Console) cancelEdit() {
	if c.edit == nil {
		fmt.Fprintln(c.out, "Nothing to cancel.")
		return
	}
	c.edit.Cancel()
	c.edit = nil
	fmt.Fprintln(c.out, "Edit cancelled.")
}

func (c *Console) remove(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Expected: rm <id>")
		return
	}
	if err := c.store.Remove(ctx, core.ID(args[0])); err != nil {
		c.report(ctx, "delete", err)
		return
	}
	fmt.Fprintf(c.out, "Deleted %s.\n", args[0])
}

func (c *Console) totals() {
	snap := c.store.Snapshot()
	for _, p := range aggregate.Series(snap.Summary) {
		fmt.Fprintf(c.out, "  %-10s %10s\n", p.Name, money(p.Value))
	}
	fmt.Fprintf(c.out, "  %-10s %10s\n", "Total", money(snap.Summary.Total))
}

func (c *Console) chart() {
	snap := c.store.Snapshot()
	points := aggregate.Series(snap.Summary)
	if len(points) == 0 {
		fmt.Fprintln(c.out, "No data.")
		return
	}
	for _, p := range points {
		share := aggregate.Share(p, snap.Summary.Total)
		n := int(share.Mul(decimal.NewFromInt(barWidth)).Div(decimal.NewFromInt(100)).Round(0).IntPart())
		if n == 0 && p.Value.IsPositive() {
			n = 1
		}
		fmt.Fprintf(c.out, "  %-10s %s %s%%\n", p.Name, strings.Repeat("#", n)+strings.Repeat(".", barWidth-n), share.StringFixed(1))
	}
}

// report prints a user-facing message for err.
func (c *Console) report(ctx context.Context, op string, err error) {
	c.logger.DebugContext(ctx, "Command failed", log.FieldOperation, op, log.FieldError, err)
	switch {
	case errors.Is(err, core.ErrEmptyTitle), errors.Is(err, core.ErrInvalidAmount):
		fmt.Fprintf(c.out, "Invalid expense: %v.\n", err)
	case errors.Is(err, client.ErrUnavailable):
		fmt.Fprintln(c.out, "Backend unavailable. Please log in again with 'login' once it is back.")
	case store.NeedsLogin(err):
		fmt.Fprintln(c.out, "Not logged in. Please log in with 'login'.")
	case errors.Is(err, client.ErrNotFound):
		fmt.Fprintln(c.out, "That expense no longer exists. Use 'load' to refresh.")
	case errors.Is(err, store.ErrStaleLoad):
		fmt.Fprintln(c.out, "Newer changes arrived while loading; run 'load' again.")
	case errors.Is(err, store.ErrClosed):
		fmt.Fprintln(c.out, "Session closed.")
	default:
		fmt.Fprintf(c.out, "Could not %s: %v\n", op, err)
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// day trims an ISO timestamp to its date.
func day(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func categoryNames() string {
	names := make([]string, len(core.Categories))
	for i, c := range core.Categories {
		names[i] = strings.ToLower(c.String())
	}
	return strings.Join(names, ", ")
}
