package command

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/urfave/cli/v2"

	clicfg "github.com/yndnr/wamesh-go/internal/cli/config"
	"github.com/yndnr/wamesh-go/internal/cli/output"
	"github.com/yndnr/wamesh-go/internal/infra/confloader"
	srvcfg "github.com/yndnr/wamesh-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "CLI profiles and server config checks",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the CLI configuration",
				Action: configShow,
			},
			{
				Name:      "set-profile",
				Usage:     "Create or update a profile",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Usage: "Server base URL", Required: true},
					&cli.StringFlag{Name: "api-key", Usage: "API key"},
					&cli.BoolFlag{Name: "use", Usage: "Make this the current profile"},
				},
				Action: configSetProfile,
			},
			{
				Name:      "use",
				Usage:     "Select the current profile",
				ArgsUsage: "NAME",
				Action:    configUse,
			},
			{
				Name:      "delete-profile",
				Usage:     "Remove a profile",
				ArgsUsage: "NAME",
				Action:    configDeleteProfile,
			},
			{
				Name:      "check-server",
				Usage:     "Load and verify a wamesh-server config file",
				ArgsUsage: "FILE",
				Action:    configCheckServer,
			},
		},
	}
}

type profileView struct {
	Name    string `json:"name"`
	Server  string `json:"server"`
	APIKey  string `json:"api_key,omitempty"`
	Current bool   `json:"current"`
}

type configView struct {
	Path     string        `json:"path"`
	Output   string        `json:"output"`
	Current  string        `json:"current,omitempty"`
	Profiles []profileView `json:"profiles"`
}

func configShow(c *cli.Context) error {
	s := getState(c)

	view := configView{
		Path:     s.configPath,
		Output:   s.config.Output,
		Current:  s.config.Current,
		Profiles: []profileView{},
	}
	for name, p := range s.config.Profiles {
		view.Profiles = append(view.Profiles, profileView{
			Name:    name,
			Server:  p.Server,
			APIKey:  maskKey(p.APIKey),
			Current: name == s.config.Current,
		})
	}
	sort.Slice(view.Profiles, func(i, j int) bool { return view.Profiles[i].Name < view.Profiles[j].Name })

	if Flags(c).Output != output.FormatTable {
		return render(c, view)
	}

	fmt.Fprintf(stdout(c), "Config file: %s\n", view.Path)
	fmt.Fprintf(stdout(c), "Output:      %s\n\n", view.Output)
	if len(view.Profiles) == 0 {
		fmt.Fprintln(stdout(c), "No profiles.")
		return nil
	}
	return render(c, view.Profiles)
}

func configSetProfile(c *cli.Context) error {
	name, err := requireArg(c, "profile name")
	if err != nil {
		return err
	}

	s := getState(c)
	if s.config.Profiles == nil {
		s.config.Profiles = make(map[string]clicfg.Profile)
	}
	s.config.Profiles[name] = clicfg.Profile{
		Server: c.String("server"),
		APIKey: c.String("api-key"),
	}
	if c.Bool("use") || s.config.Current == "" {
		s.config.Current = name
	}

	if err := clicfg.Save(s.config, s.configPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Profile %q saved.\n", name)
	return nil
}

func configUse(c *cli.Context) error {
	name, err := requireArg(c, "profile name")
	if err != nil {
		return err
	}

	s := getState(c)
	if _, ok := s.config.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	s.config.Current = name

	if err := clicfg.Save(s.config, s.configPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Using profile %q.\n", name)
	return nil
}

func configDeleteProfile(c *cli.Context) error {
	name, err := requireArg(c, "profile name")
	if err != nil {
		return err
	}

	s := getState(c)
	if _, ok := s.config.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	delete(s.config.Profiles, name)
	if s.config.Current == name {
		s.config.Current = ""
	}

	if err := clicfg.Save(s.config, s.configPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Profile %q deleted.\n", name)
	return nil
}

// configCheckServer loads FILE over the server defaults and prints a
// summary with secrets masked.
func configCheckServer(c *cli.Context) error {
	path, err := requireArg(c, "config file")
	if err != nil {
		return err
	}

	// Only the file is applied; WAMESH_* variables in the CLI's own
	// environment belong to the CLI.
	cfg := srvcfg.Default()
	loader := confloader.NewLoader()
	if err := loader.LoadFile(path); err != nil {
		return err
	}
	if err := loader.Unmarshal(cfg); err != nil {
		return err
	}
	if err := srvcfg.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintf(stderr(c), "%s is valid.\n", path)
	return render(c, serverSummary(srvcfg.Sanitize(cfg)))
}

// serverSummary flattens the settings an operator usually checks.
func serverSummary(cfg *srvcfg.ServerConfig) map[string]string {
	backup := "disabled"
	if cfg.Backup.Bucket != "" {
		backup = "s3://" + cfg.Backup.Bucket + "/" + cfg.Backup.Prefix
	}
	events := "disabled"
	if cfg.Events.NATSURL != "" {
		events = cfg.Events.NATSURL + " (" + cfg.Events.SubjectPrefix + ")"
	}
	return map[string]string{
		"http.address":     cfg.Server.HTTP.Address,
		"http.tls":         strconv.FormatBool(cfg.Server.HTTP.TLSCertFile != ""),
		"auth.api_keys":    strconv.Itoa(len(cfg.Auth.APIKeys)),
		"sessions.dir":     cfg.Sessions.Dir,
		"transport.driver": cfg.Transport.Driver,
		"transport.url":    cfg.Transport.GatewayURL,
		"msglog.driver":    cfg.MsgLog.Driver,
		"msglog.retention": strconv.Itoa(cfg.MsgLog.RetentionDays) + "d",
		"events":           events,
		"backup":           backup,
		"log.level":        cfg.Telemetry.Log.Level,
	}
}

func maskKey(key string) string {
	if len(key) <= 4 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "****"
}
