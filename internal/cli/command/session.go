package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/wamesh-go/internal/cli/connection"
	"github.com/yndnr/wamesh-go/internal/cli/output"
)

const pollInterval = 500 * time.Millisecond

// SessionCommand returns the session subcommand group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Manage sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a session and start pairing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "client-id",
						Aliases:  []string{"c"},
						Usage:    "Client that owns the session",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Session ID (generated when empty)",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait until a pairing challenge is available or the session connects",
					},
					&cli.DurationFlag{
						Name:  "wait-timeout",
						Value: time.Minute,
						Usage: "How long --wait polls before giving up",
					},
				},
				Action: sessionCreate,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List sessions",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "client-id",
						Aliases: []string{"c"},
						Usage:   "Filter by client ID",
					},
				},
				Action: sessionList,
			},
			{
				Name:      "get",
				Usage:     "Show one session",
				ArgsUsage: "SESSION_ID",
				Action:    sessionGet,
			},
			{
				Name:      "qr",
				Usage:     "Print the pairing challenge of a session",
				ArgsUsage: "SESSION_ID",
				Action:    sessionQR,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Log out a session and delete its credentials",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip confirmation",
					},
				},
				Action: sessionDelete,
			},
		},
	}
}

func sessionCreate(c *cli.Context) error {
	client := newClient(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Post(ctx, "/api/sessions", map[string]string{
		"clientId":  c.String("client-id"),
		"sessionId": c.String("id"),
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var session Session
	if _, err := connection.ParseResponse(resp, &session); err != nil {
		return err
	}

	if c.Bool("wait") {
		waited, err := waitForPairing(c, client, session.ID)
		if err != nil {
			return err
		}
		session = *waited
	}
	return render(c, session)
}

// waitForPairing polls the session until it reaches awaiting-scan or
// connected, showing a spinner on stderr.
func waitForPairing(c *cli.Context, client *connection.HTTPClient, id string) (*Session, error) {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait-timeout"))
	defer cancel()

	spinner := output.NewSpinner(stderr(c), "Waiting for session "+id)
	spinner.Start()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		session, err := fetchSession(ctx, client, id)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			spinner.Fail(err.Error())
			return nil, err
		}
		if session != nil {
			switch session.Status {
			case statusAwaitingScan:
				spinner.Success("Pairing challenge ready")
				return session, nil
			case statusConnected:
				spinner.Success("Connected as " + session.PhoneIdentity)
				return session, nil
			}
			spinner.Update(fmt.Sprintf("Waiting for session %s (%s)", id, session.Status))
		}

		select {
		case <-ctx.Done():
			spinner.Fail("Timed out")
			return nil, fmt.Errorf("session %s not ready after %s", id, c.Duration("wait-timeout"))
		case <-ticker.C:
		}
	}
}

func fetchSession(ctx context.Context, client *connection.HTTPClient, id string) (*Session, error) {
	resp, err := client.Get(ctx, "/api/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var session Session
	if _, err := connection.ParseResponse(resp, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func sessionList(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/api/sessions", url.Values{"clientId": {c.String("client-id")}})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	sessions := []Session{}
	if _, err := connection.ParseResponse(resp, &sessions); err != nil {
		return err
	}

	if Flags(c).Output == output.FormatTable && len(sessions) == 0 {
		fmt.Fprintln(stdout(c), "No sessions.")
		return nil
	}
	return render(c, sessions)
}

func sessionGet(c *cli.Context) error {
	id, err := requireArg(c, "session ID")
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	session, err := fetchSession(ctx, newClient(c), id)
	if err != nil {
		return err
	}
	return render(c, session)
}

func sessionQR(c *cli.Context) error {
	id, err := requireArg(c, "session ID")
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/api/sessions/"+url.PathEscape(id)+"/qr", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var qr PairingChallenge
	if _, err := connection.ParseResponse(resp, &qr); err != nil {
		return err
	}

	// Table mode prints the bare challenge so it can be piped into a QR renderer.
	if Flags(c).Output == output.FormatTable {
		fmt.Fprintln(stdout(c), qr.Challenge)
		return nil
	}
	return render(c, qr)
}

func sessionDelete(c *cli.Context) error {
	id, err := requireArg(c, "session ID")
	if err != nil {
		return err
	}

	if !c.Bool("force") {
		fmt.Fprintf(stdout(c), "Delete session '%s' and its stored credentials? [y/N]: ", id)
		var confirm string
		_, _ = fmt.Fscanln(c.App.Reader, &confirm)
		if confirm != "y" && confirm != "Y" {
			fmt.Fprintln(stdout(c), "Cancelled.")
			return nil
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Delete(ctx, "/api/sessions/"+url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if _, err := connection.ParseResponse(resp, nil); err != nil {
		return err
	}

	fmt.Fprintf(stdout(c), "Session %s deleted.\n", id)
	return nil
}
