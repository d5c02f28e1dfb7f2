package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/wamesh-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run commands interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "history",
				Usage: "History file (default ~/.wamesh/history)",
			},
		},
		Action: shellRun,
	}
}

func shellRun(c *cli.Context) error {
	g := Flags(c)
	prefix := []string{
		c.App.Name,
		"--server", g.Server,
		"--api-key", g.APIKey,
		"--output", string(g.Output),
		"--config", getState(c).configPath,
	}
	if g.Wide {
		prefix = append(prefix, "--wide")
	}

	run := func(ctx context.Context, args []string) error {
		if args[0] == "shell" {
			return errors.New("already in a shell")
		}
		app := App()
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		app.Reader = c.App.Reader
		app.ExitErrHandler = func(*cli.Context, error) {}
		return app.RunContext(ctx, append(append([]string(nil), prefix...), args...))
	}

	fmt.Fprintf(stdout(c), "Connected to %s. Type \"help\" for commands, \"exit\" to quit.\n", g.Server)

	r := repl.New(run, commandPaths(c.App.Commands, ""),
		repl.WithIO(c.App.Reader, c.App.Writer),
		repl.WithHistory(repl.NewHistory(c.String("history"))),
	)
	return r.Run(c.Context)
}

// commandPaths lists every leaf command as a space-separated path.
func commandPaths(cmds []*cli.Command, parent string) []string {
	var paths []string
	for _, cmd := range cmds {
		if cmd.Hidden || cmd.Name == "shell" {
			continue
		}
		path := strings.TrimSpace(parent + " " + cmd.Name)
		if len(cmd.Subcommands) == 0 {
			paths = append(paths, path)
			continue
		}
		paths = append(paths, commandPaths(cmd.Subcommands, path)...)
	}
	return paths
}
