package command

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/wamesh-go/internal/cli/connection"
	"github.com/yndnr/wamesh-go/internal/cli/output"
)

// MessageCommand returns the message subcommand group.
func MessageCommand() *cli.Command {
	return &cli.Command{
		Name:    "message",
		Aliases: []string{"msg"},
		Usage:   "Send messages and inspect the message log",
		Subcommands: []*cli.Command{
			{
				Name:  "send",
				Usage: "Send a text message through a connected session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Aliases: []string{"S"}, Usage: "Session ID", Required: true},
					&cli.StringFlag{Name: "to", Aliases: []string{"t"}, Usage: "Recipient phone number", Required: true},
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message text", Required: true},
				},
				Action: messageSend,
			},
			{
				Name:  "logs",
				Usage: "List recorded send attempts, newest first",
				Flags: append(filterFlags(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum entries (server caps at 1000)"},
					&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
				),
				Action: messageLogs,
			},
			{
				Name:   "stats",
				Usage:  "Count sent and failed attempts",
				Flags:  filterFlags(),
				Action: messageStats,
			},
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "session", Aliases: []string{"S"}, Usage: "Filter by session ID"},
		&cli.StringFlag{Name: "client-id", Aliases: []string{"c"}, Usage: "Filter by client ID"},
		&cli.StringFlag{Name: "to", Usage: "Filter by recipient"},
		&cli.StringFlag{Name: "status", Usage: "Filter by status: sent, failed"},
		&cli.StringFlag{Name: "since", Usage: "Start date (YYYY-MM-DD or RFC 3339)"},
		&cli.StringFlag{Name: "until", Usage: "End date (YYYY-MM-DD or RFC 3339)"},
	}
}

func filterQuery(c *cli.Context) url.Values {
	q := url.Values{
		"sessionId": {c.String("session")},
		"clientId":  {c.String("client-id")},
		"to":        {c.String("to")},
		"status":    {c.String("status")},
		"startDate": {c.String("since")},
		"endDate":   {c.String("until")},
	}
	if c.IsSet("limit") {
		q.Set("limit", strconv.Itoa(c.Int("limit")))
	}
	if c.IsSet("offset") {
		q.Set("offset", strconv.Itoa(c.Int("offset")))
	}
	return q
}

func messageSend(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Post(ctx, "/api/messages/send", map[string]string{
		"sessionId": c.String("session"),
		"to":        c.String("to"),
		"message":   c.String("message"),
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result SendResult
	if _, err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	if Flags(c).Output == output.FormatTable {
		fmt.Fprintf(stdout(c), "Message sent to %s via %s.\n", result.To, result.SessionID)
		return nil
	}
	return render(c, result)
}

func messageLogs(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/api/messages/logs", filterQuery(c))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	logs := []MessageLog{}
	env, err := connection.ParseResponse(resp, &logs)
	if err != nil {
		return err
	}

	if Flags(c).Output != output.FormatTable {
		return render(c, logs)
	}
	if len(logs) == 0 {
		fmt.Fprintln(stdout(c), "No messages.")
		return nil
	}
	if err := render(c, logs); err != nil {
		return err
	}
	if env.Count != nil {
		fmt.Fprintf(stdout(c), "\nTotal: %d\n", *env.Count)
	}
	return nil
}

func messageStats(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/api/messages/stats", filterQuery(c))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var stats MessageStats
	if _, err := connection.ParseResponse(resp, &stats); err != nil {
		return err
	}
	return render(c, stats)
}
