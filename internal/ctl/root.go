package ctl

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
)

// Env holds defaults read from FRAMELINK_* variables.
type Env struct {
	Server  string        `envconfig:"SERVER" default:"http://localhost:8000"`
	Output  string        `envconfig:"OUTPUT" default:"table"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

type cli struct {
	server  string
	output  string
	timeout time.Duration

	client    *Client
	formatter Formatter
}

// NewRootCmd builds the framelinkctl command tree.
func NewRootCmd() *cobra.Command {
	var env Env
	if err := envconfig.Process("framelink", &env); err != nil {
		env = Env{Server: "http://localhost:8000", Output: "table", Timeout: 30 * time.Second}
	}

	c := &cli{}
	root := &cobra.Command{
		Use:   "framelinkctl",
		Short: "Control display sessions on a framelink server",
		Long: `framelinkctl opens sessions on hosted or sandboxed display frames,
calls their methods, reads and writes properties, and streams their events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := NewFormatter(c.output)
			if err != nil {
				return err
			}
			c.formatter = formatter
			c.client = NewClient(c.server, c.timeout)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.server, "server", env.Server, "framelink server URL (env FRAMELINK_SERVER)")
	flags.StringVarP(&c.output, "output", "o", env.Output, "output format: table, json, yaml")
	flags.DurationVar(&c.timeout, "timeout", env.Timeout, "request timeout")

	root.AddCommand(
		c.openCmd(),
		c.listCmd(),
		c.describeCmd(),
		c.readyCmd(),
		c.callCmd(),
		c.getCmd(),
		c.setCmd(),
		c.destroyCmd(),
		c.watchCmd(),
	)
	return root
}

// Execute runs framelinkctl.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (c *cli) print(cmd *cobra.Command, data any) error {
	out, err := c.formatter.Format(data)
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
