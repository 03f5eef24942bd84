package ctl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	api "github.com/GriffinCanCode/framelink/internal/api/http"
)

func (c *cli) openCmd() *cobra.Command {
	var (
		req    OpenRequest
		params []string
	)
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a session on a display",
		Example: `  framelinkctl open --id 5f0c5a3e2b1d4c6a7e8f9012 --wait
  framelinkctl open --url https://display.nfinite.app/v1/abc --param autoplay=1
  framelinkctl open --sandbox --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.ID == "" && req.URL == "" && !req.Sandbox {
				return fmt.Errorf("one of --id, --url or --sandbox is required")
			}
			if len(params) > 0 {
				req.Params = make(map[string]string, len(params))
				for _, p := range params {
					k, v, ok := strings.Cut(p, "=")
					if !ok {
						v = "1"
					}
					req.Params[k] = v
				}
			}
			info, err := c.client.Open(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to open session: %w", err)
			}
			return c.print(cmd, info)
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "display id")
	cmd.Flags().StringVar(&req.URL, "url", "", "display url")
	cmd.Flags().StringArrayVar(&params, "param", nil, "display parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&req.Sandbox, "sandbox", false, "open an in-process sandbox display")
	cmd.Flags().BoolVar(&req.Wait, "wait", false, "wait until the display is ready")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := c.client.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			return c.print(cmd, infos)
		},
	}
}

func (c *cli) describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := c.client.Describe(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to describe session: %w", err)
			}
			return c.print(cmd, info)
		},
	}
}

func (c *cli) readyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready <session-id>",
		Short: "Wait until a session is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := c.client.Ready(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("session not ready: %w", err)
			}
			return c.print(cmd, info)
		},
	}
}

func (c *cli) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <session-id> <method> [value]",
		Short: "Call a display method",
		Long: `Call a display method. The optional value is parsed as JSON; anything
that is not valid JSON is sent as a string. Omit it to send no value.`,
		Example: `  framelinkctl call sess_01H... nextScene '{"cursor":"c1"}'
  framelinkctl call sess_01H... setFilter null`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var values []any
			if len(args) == 3 {
				values = append(values, parseValue(args[2]))
			}
			value, err := c.client.Call(cmd.Context(), args[0], args[1], values...)
			if err != nil {
				return fmt.Errorf("call %s failed: %w", args[1], err)
			}
			return c.print(cmd, value)
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id> <property>",
		Short: "Read a display property",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := c.client.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("get %s failed: %w", args[1], err)
			}
			return c.print(cmd, value)
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <session-id> <property> <value>",
		Short: "Write a display property",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.Set(cmd.Context(), args[0], args[1], parseValue(args[2])); err != nil {
				return fmt.Errorf("set %s failed: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated.\n", args[1])
			return nil
		},
	}
}

func (c *cli) destroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <session-id>",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.Destroy(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to destroy session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %q destroyed.\n", args[0])
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch <session-id> <event>",
		Short: "Stream a display event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seen := 0
			err := c.client.Watch(cmd.Context(), args[0], args[1], func(frame api.EventFrame) error {
				if err := c.print(cmd, frame); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return errWatchDone
				}
				return nil
			})
			if errors.Is(err, errWatchDone) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 streams until interrupted)")
	return cmd
}

var errWatchDone = errors.New("watch done")

// parseValue reads s as JSON, falling back to the literal string.
func parseValue(s string) any {
	var v any
	if err := sonic.UnmarshalString(s, &v); err != nil {
		return s
	}
	return v
}
