package command

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/wamesh-go/internal/cli/output"
	"github.com/yndnr/wamesh-go/internal/events"
)

// EventsCommand returns the events subcommand group.
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Follow session and message events published over NATS",
		Subcommands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "Print events as they arrive",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "nats",
						Usage:   "NATS server URL",
						EnvVars: []string{"WAMESH_NATS_URL"},
						Value:   "nats://127.0.0.1:4222",
					},
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Subject prefix configured on the server",
						Value: "wamesh",
					},
					&cli.StringFlag{
						Name:  "topic",
						Usage: "Topic under the prefix; NATS wildcards allowed",
						Value: ">",
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Exit after this many events (0 = until interrupted)",
					},
				},
				Action: eventsWatch,
			},
		},
	}
}

func eventsWatch(c *cli.Context) error {
	sub, err := events.NewNATSSubscriber(c.String("nats"), c.String("prefix"))
	if err != nil {
		return err
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(c.String("topic"))
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Fprintf(stderr(c), "Watching %s.%s\n", c.String("prefix"), c.String("topic"))

	limit := c.Int("count")
	for seen := 0; limit == 0 || seen < limit; seen++ {
		select {
		case <-c.Context.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := printEvent(c, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// printEvent writes one payload. Table and JSON modes print one compact
// JSON line per event; YAML renders a document per event.
func printEvent(c *cli.Context, data []byte) error {
	if Flags(c).Output != output.FormatYAML {
		return (&output.JSONFormatter{Compact: true}).Format(stdout(c), json.RawMessage(data))
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	fmt.Fprintln(stdout(c), "---")
	return render(c, event)
}
