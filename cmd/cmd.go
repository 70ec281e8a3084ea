package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telewake/relay-service/config"
	"github.com/urfave/cli/v2"
)

const (
	ServiceName      = "relay-service"
	ServiceNamespace = "telewake"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Blind relay for end-to-end encrypted device traffic",
		Commands: []*cli.Command{
			serverCmd(),
			userCmd(),
			topCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the relay server",
		// The server's own flags are pflag-parsed so they bind straight
		// into the config resolver.
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			flags := config.Flags()
			if err := flags.Parse(c.Args().Slice()); err != nil {
				return err
			}
			file, err := flags.GetString("config_file")
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(file, flags)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			return app.Stop(context.Background())
		},
	}
}
