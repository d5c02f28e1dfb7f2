package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/wamesh-go/internal/cli/connection"
	"github.com/yndnr/wamesh-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server status",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check server health",
				Action: systemHealth,
			},
			{
				Name:   "version",
				Usage:  "Show client and server versions",
				Action: systemVersion,
			},
		},
	}
}

func fetchHealth(c *cli.Context) (*Health, error) {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/health", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var health Health
	if _, err := connection.ParseResponse(resp, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func systemHealth(c *cli.Context) error {
	health, err := fetchHealth(c)
	if err != nil {
		return err
	}
	return render(c, health)
}

func systemVersion(c *cli.Context) error {
	versions := map[string]string{
		"client": buildinfo.String(),
	}
	if health, err := fetchHealth(c); err != nil {
		versions["server"] = "unreachable: " + err.Error()
	} else {
		versions["server"] = health.Version
	}
	return render(c, versions)
}
