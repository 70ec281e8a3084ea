package cmd

import (
	"fmt"

	"github.com/telewake/relay-service/config"
	"github.com/telewake/relay-service/internal/storage"
	"github.com/urfave/cli/v2"
)

func userCmd() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage relay accounts",
		Subcommands: []*cli.Command{
			userAddCmd(),
		},
	}
}

// userAddCmd provisions an account straight in the store and prints the
// minted API token. Accounts are created by operators only; the relay
// itself has no signup surface.
func userAddCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create an account and print its API token",
		ArgsUsage: "<username> <password>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "plan",
				Usage: "Account plan, empty uses the configured default",
			},
			&cli.IntFlag{
				Name:  "devices_limit",
				Usage: "Device cap, 0 uses the configured default",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("usage: user add <username> <password>", 2)
			}
			username, password := c.Args().Get(0), c.Args().Get(1)

			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}

			st, err := storage.Open(cfg.DatabaseFile)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(c.Context); err != nil {
				return err
			}

			plan := c.String("plan")
			if plan == "" {
				plan = cfg.DefaultPlan
			}
			limit := c.Int("devices_limit")
			if limit <= 0 {
				limit = cfg.DefaultDevicesLimit
			}

			user, err := st.CreateUser(c.Context, username, password, plan, limit)
			if err != nil {
				return err
			}

			fmt.Printf("user:      %s\n", user.Username)
			fmt.Printf("plan:      %s (devices limit %d)\n", user.Plan, user.DevicesLimit)
			fmt.Printf("api_token: %s\n", user.APIToken)
			return nil
		},
	}
}
