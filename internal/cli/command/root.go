package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	clicfg "github.com/yndnr/wamesh-go/internal/cli/config"
	"github.com/yndnr/wamesh-go/internal/cli/connection"
	"github.com/yndnr/wamesh-go/internal/cli/output"
	"github.com/yndnr/wamesh-go/internal/infra/buildinfo"
)

const (
	stateKey       = "wamesh"
	requestTimeout = 30 * time.Second
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "wamesh-cli",
		Usage:                "Manage WhatsApp sessions on a wamesh-server",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			SessionCommand(),
			MessageCommand(),
			SystemCommand(),
			ConfigCommand(),
			EventsCommand(),
			ShellCommand(),
		},
		Before: before,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "wamesh-server base URL",
			EnvVars: []string{"WAMESH_SERVER"},
			Value:   clicfg.DefaultServer,
		},
		&cli.StringFlag{
			Name:    "api-key",
			Aliases: []string{"K"},
			Usage:   "API key sent as X-API-Key",
			EnvVars: []string{"WAMESH_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Profile from the CLI config file",
			EnvVars: []string{"WAMESH_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI config file",
			EnvVars: []string{"WAMESH_CLI_CONFIG"},
			Value:   clicfg.DefaultConfigPath(),
		},
	}
}

// GlobalFlags holds the connection and output settings after profile
// resolution.
type GlobalFlags struct {
	Server  string
	APIKey  string
	Profile string
	Output  output.Format
	Wide    bool
}

type state struct {
	flags      GlobalFlags
	config     *clicfg.CLIConfig
	configPath string
}

// before loads the CLI config and fills unset flags from the selected
// profile. Explicit flags and environment variables win.
func before(c *cli.Context) error {
	path := c.String("config")
	cfg, err := clicfg.Load(path)
	if err != nil {
		return err
	}

	g := GlobalFlags{
		Server:  c.String("server"),
		APIKey:  c.String("api-key"),
		Profile: c.String("profile"),
		Wide:    c.Bool("wide"),
	}

	profile, ok := cfg.Profile(g.Profile)
	if g.Profile != "" && !ok {
		return fmt.Errorf("profile %q not found in %s", g.Profile, path)
	}
	if ok {
		if !c.IsSet("server") && profile.Server != "" {
			g.Server = profile.Server
		}
		if !c.IsSet("api-key") {
			g.APIKey = profile.APIKey
		}
	}

	format := c.String("output")
	if !c.IsSet("output") && cfg.Output != "" {
		format = cfg.Output
	}
	if g.Output, err = output.ParseFormat(format); err != nil {
		return err
	}

	c.App.Metadata[stateKey] = &state{flags: g, config: cfg, configPath: path}
	return nil
}

func getState(c *cli.Context) *state {
	if s, ok := c.App.Metadata[stateKey].(*state); ok {
		return s
	}
	return &state{flags: GlobalFlags{Server: clicfg.DefaultServer, Output: output.FormatTable}, config: clicfg.Default()}
}

// Flags returns the resolved global flags.
func Flags(c *cli.Context) GlobalFlags {
	return getState(c).flags
}

func newClient(c *cli.Context) *connection.HTTPClient {
	g := Flags(c)
	return connection.NewHTTPClient(g.Server, g.APIKey)
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, requestTimeout)
}

func render(c *cli.Context, data any) error {
	g := Flags(c)
	return output.NewFormatter(g.Output, g.Wide).Format(c.App.Writer, data)
}

func stdout(c *cli.Context) io.Writer {
	return c.App.Writer
}

func stderr(c *cli.Context) io.Writer {
	return c.App.ErrWriter
}

// requireArg returns the first positional argument or a usage error.
func requireArg(c *cli.Context, name string) (string, error) {
	v := c.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s required", name)
	}
	return v, nil
}
