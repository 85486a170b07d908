package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"quickmart/backend/internal/app"
	"quickmart/backend/internal/config"
	"quickmart/backend/internal/httpapi"
	"quickmart/backend/internal/logger"
	"quickmart/backend/internal/migrate"
)

var commands = []subcommands.Command{
	&migrateCmd{},
	&exportCmd{},
	&stockCmd{},
	&userAddCmd{},
}

// openApp loads configuration and connects the store. Logs go to stderr so
// command output stays clean.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		ServiceName: "posctl",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      "console",
		Output:      os.Stderr,
	})
	return app.Open(ctx, cfg, log, app.Options{SkipCache: true})
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply, roll back or list database migrations" }
func (*migrateCmd) Usage() string {
	return `posctl migrate up|down|status

  Runs the embedded goose migrations against DATABASE_URL.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return subcommands.ExitUsageError
	}
	command := f.Arg(0)
	switch command {
	case "up", "down", "status":
	default:
		return fail(fmt.Errorf("unknown migrate command %q", command))
	}

	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	if a.Postgres == nil {
		return fail(errors.New("DATABASE_URL must be set to run migrations"))
	}
	if err := migrate.Run(ctx, a.Postgres.DB(), command); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type exportCmd struct {
	from   string
	to     string
	output string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export sales in a date range as CSV" }
func (*exportCmd) Usage() string {
	return `posctl export [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-o file.csv]

  Writes one row per sale with columns Item,Category,Unit,QtySold,TotalPrice,Date.
  Dates are calendar days in BUSINESS_TIMEZONE; both bounds are inclusive.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "First day to include (YYYY-MM-DD).")
	f.StringVar(&c.to, "to", "", "Last day to include (YYYY-MM-DD).")
	f.StringVar(&c.output, "o", "", "Output file (defaults to stdout).")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rng, err := a.Service.ParseDateRange(c.from, c.to)
	if err != nil {
		return fail(err)
	}

	var w io.Writer = os.Stdout
	if c.output != "" {
		file, err := os.Create(c.output)
		if err != nil {
			return fail(err)
		}
		defer file.Close()
		w = file
	}

	n, err := a.Service.ExportSales(ctx, rng, w)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "exported %d sales\n", n)
	return subcommands.ExitSuccess
}

type stockCmd struct {
	lowOnly bool
}

func (*stockCmd) Name() string     { return "stock" }
func (*stockCmd) Synopsis() string { return "print current stock levels" }
func (*stockCmd) Usage() string {
	return `posctl stock [-low]

  Lists stocked, sold and on-hand quantities per item, lowest first.
`
}

func (c *stockCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.lowOnly, "low", false, "Only show items at or below LOW_STOCK_THRESHOLD.")
}

func (c *stockCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	levels, err := a.Service.StockLevels(ctx)
	if err != nil {
		return fail(err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSTOCKED\tSOLD\tON HAND\t")
	for _, lvl := range levels {
		if c.lowOnly && !lvl.LowStock {
			continue
		}
		mark := ""
		if lvl.LowStock {
			mark = "LOW"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", lvl.Name, lvl.TotalStocked, lvl.TotalSold, lvl.CurrentLevel, mark)
	}
	if err := tw.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type userAddCmd struct {
	role string
}

func (*userAddCmd) Name() string     { return "useradd" }
func (*userAddCmd) Synopsis() string { return "create a login for a cashier, manager, admin or viewer" }
func (*userAddCmd) Usage() string {
	return `posctl useradd -role cashier <username>

  Reads the password from the first line of stdin.
`
}

func (c *userAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.role, "role", "cashier", "Role of the new account.")
}

func (c *userAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return subcommands.ExitUsageError
	}

	password, err := readLine(os.Stdin)
	if err != nil {
		return fail(err)
	}
	user, err := httpapi.NewUserAccount(f.Arg(0), password, strings.ToLower(strings.TrimSpace(c.role)))
	if err != nil {
		return fail(err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	if a.Postgres == nil {
		return fail(errors.New("DATABASE_URL must be set; in-memory users do not outlive the command"))
	}
	if err := a.Repo.CreateUser(ctx, user); err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "created %s (%s)\n", user.Username, user.Role)
	return subcommands.ExitSuccess
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
