package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/orchestrator"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(out, errOut)
	root.SetArgs(args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

// cli carries the per-invocation settings shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgPath string
	user    string
	out     io.Writer
	errOut  io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: config.New(), out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "orange-sage",
		Short:         "Security scan orchestration and finding aggregation",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgPath, "config", "", "path to a YAML config file")
	flags.String("db", "", "path to database file (overrides db.path)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.user, "user", "", "act as this user; projects owned by others are hidden")
	_ = c.v.BindPFlag("db.path", flags.Lookup("db"))
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		newServeCmd(c),
		newProjectsCmd(c),
		newTargetsCmd(c),
		newScanCmd(c),
		newFindingsCmd(c),
		newReportCmd(c),
		newExportCmd(c),
	)
	return root
}

// open builds the application for one command. Flags left unset fall
// through to the config file, the environment and the defaults.
func (c *cli) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(c.v, c.cfgPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, c.errOut)
}

// context attaches the --user identity.
func (c *cli) context(ctx context.Context) context.Context {
	if c.user == "" {
		return ctx
	}
	return orchestrator.WithUser(ctx, c.user)
}

// withApp opens the application, runs fn and shuts everything down.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := c.context(cmd.Context())
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	closeErr := a.Close(context.Background())
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
