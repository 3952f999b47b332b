// Command salctl drives a salkit server from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	sdk "salkit/sdk/go"
)

var (
	version = "dev"
	commit  = "unknown"
)

// CLI is the top-level command structure for salctl.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`
	Server  string           `help:"API base URL." default:"http://localhost:8080/api" env:"SALCTL_SERVER"`
	APIKey  string           `help:"API key sent as X-API-Key." env:"SALCTL_API_KEY"`
	Output  string           `help:"Output format." enum:"auto,json,table" default:"auto" short:"o"`
	Timeout time.Duration    `help:"Per-command timeout." default:"10s"`

	Health      HealthCmd      `cmd:"" help:"Check server health."`
	Board       BoardCmd       `cmd:"" help:"Leaderboard commands."`
	UGC         UGCCmd         `cmd:"" name:"ugc" help:"Download shared files."`
	Stats       StatsCmd       `cmd:"" help:"Stat commands."`
	Achievement AchievementCmd `cmd:"" help:"Achievement commands."`
	Avatar      AvatarCmd      `cmd:"" help:"Fetch an avatar as PNG."`
	Events      EventsCmd      `cmd:"" help:"Stream request lifecycle events."`
	Metrics     MetricsCmd     `cmd:"" help:"Show request metrics."`
}

// Globals is bound into every command's Run.
type Globals struct {
	Client  *sdk.Client
	Out     io.Writer
	JSON    bool
	Timeout time.Duration
}

func (g *Globals) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.Timeout)
}

func newGlobals(cli *CLI, out io.Writer, tty bool) (*Globals, error) {
	var opts []sdk.Option
	if cli.APIKey != "" {
		opts = append(opts, sdk.WithAPIKey(cli.APIKey))
	}
	client, err := sdk.NewClient(cli.Server, opts...)
	if err != nil {
		return nil, err
	}
	useJSON := cli.Output == "json" || (cli.Output == "auto" && !tty)
	return &Globals{Client: client, Out: out, JSON: useJSON, Timeout: cli.Timeout}, nil
}

func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// exitCode maps API failures to distinct process exit codes.
func exitCode(err error) int {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 401:
			return 3
		case apiErr.Status >= 500:
			return 4
		default:
			return 2
		}
	}
	return 1
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("salctl"),
		kong.Description("Command line client for the salkit API."),
		kong.Vars{"version": version + " " + commit},
	)
	g, err := newGlobals(&cli, os.Stdout, stdoutIsTTY())
	if err == nil {
		err = ctx.Run(g)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
