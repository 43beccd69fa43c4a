package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hubbridge/internal/discovery"
	"hubbridge/internal/hub"
	"hubbridge/internal/store"
)

// connected builds the app and selects the hub named by --hub before running fn.
func connected(fn func(cmd *cobra.Command, args []string, a *App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		ref, _ := cmd.Flags().GetString("hub")
		if err := a.connect(ref); err != nil {
			return err
		}
		return fn(cmd, args, a)
	}
}

// --- Hub profiles ---

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Manage hub profiles",
}

var hubAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a hub profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		baseURL, _ := cmd.Flags().GetString("url")
		appID, _ := cmd.Flags().GetString("app-id")
		token, _ := cmd.Flags().GetString("token")
		hubIP, _ := cmd.Flags().GetString("hub-ip")
		local, _ := cmd.Flags().GetBool("local")
		platform, _ := cmd.Flags().GetString("platform")

		switch hub.Platform(platform) {
		case hub.PlatformSmartThings, hub.PlatformHubitat:
		default:
			return fmt.Errorf("unknown platform %q (want %s or %s)", platform, hub.PlatformSmartThings, hub.PlatformHubitat)
		}

		p, err := a.store.AddHub(store.HubProfile{
			Name:        name,
			BaseURL:     baseURL,
			AppID:       appID,
			AccessToken: token,
			HubIP:       hubIP,
			UseLocal:    local,
			Platform:    hub.Platform(platform),
		})
		if err != nil {
			return err
		}
		a.logger.Info("hub profile added", "id", p.ID, "name", p.Name, "path", a.store.Path())
		return a.printJSON(p)
	},
}

var hubListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hub profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		active, _ := a.store.ActiveHub()
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tID\tNAME\tPLATFORM\tHUB IP\tLOCAL")
		for _, p := range a.store.GetHubs() {
			mark := ""
			if p.ID == active.ID {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", mark, p.ID, p.Name, p.Platform, p.HubIP, p.UseLocal)
		}
		return tw.Flush()
	},
}

var hubRemoveCmd = &cobra.Command{
	Use:   "remove <id|name>",
	Short: "Remove a hub profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		return a.store.DeleteHub(args[0])
	},
}

var hubSelectCmd = &cobra.Command{
	Use:   "select <id|name>",
	Short: "Make a profile the default for other commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		p, ok := a.store.FindHub(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrHubNotFound, args[0])
		}
		settings := a.store.GetSettings()
		settings.ActiveHub = p.ID
		return a.store.SetSettings(settings)
	},
}

var hubUseLocalCmd = &cobra.Command{
	Use:   "use-local <hub-ip>",
	Short: "Set the hub's LAN address and turn local commands on or off",
	Args:  cobra.ExactArgs(1),
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		off, _ := cmd.Flags().GetBool("off")
		if ip := net.ParseIP(args[0]); ip == nil {
			return fmt.Errorf("invalid hub address %q", args[0])
		}
		if err := a.UseLocal(args[0], !off); err != nil {
			return err
		}
		a.logger.Info("connection updated", "hub", a.profile.Name, "hub_ip", args[0], "route", a.client.Route())
		return nil
	}),
}

// --- Hub calls ---

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List all devices exposed by the SmartApp",
	Args:  cobra.NoArgs,
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		v, err := a.client.ListDevices(ctx)
		if err != nil {
			return err
		}
		return a.printValue(v, queryFlag(cmd))
	}),
}

var deviceCmd = &cobra.Command{
	Use:   "device <device-id>",
	Short: "Show the current state of one device",
	Args:  cobra.ExactArgs(1),
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		v, err := a.client.GetDevice(ctx, args[0])
		if err != nil {
			return err
		}
		return a.printValue(v, queryFlag(cmd))
	}),
}

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Fetch attribute changes the hub has queued since the last call",
	Args:  cobra.NoArgs,
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		v, err := a.client.GetUpdates(ctx)
		if err != nil {
			return err
		}
		return a.printValue(v, queryFlag(cmd))
	}),
}

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Show the hub's event-subscription service details",
	Args:  cobra.NoArgs,
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		v, err := a.client.GetSubscriptionService(ctx)
		if err != nil {
			return err
		}
		return a.printValue(v, queryFlag(cmd))
	}),
}

var runCmd = &cobra.Command{
	Use:   "run <device-id> <command> [values-json]",
	Short: "Send a command to a device",
	Long: `Send a command to a device. values-json is passed to the hub as is, e.g.
'{"value1": 50}' for setLevel.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		var values any
		if len(args) == 3 {
			if err := json.Unmarshal([]byte(args[2]), &values); err != nil {
				return fmt.Errorf("values must be JSON: %w", err)
			}
		}
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		if err := a.client.RunCommand(ctx, args[0], args[1], values); err != nil {
			return err
		}
		a.logger.Info("command sent", "device", args[0], "command", args[1], "route", a.client.Route())
		return nil
	}),
}

var directCmd = &cobra.Command{
	Use:   "direct <ip> <port>",
	Short: "Ask the hub to push attribute changes to ip:port",
	Args:  cobra.ExactArgs(2),
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[1])
		}
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		if err := a.client.EnableDirectCallback(ctx, args[0], port); err != nil {
			return err
		}
		a.logger.Info("direct callback enabled", "ip", args[0], "port", port, "route", a.client.Route())
		return nil
	}),
}

// --- Discovery ---

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search the LAN for hubs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		noProbe, _ := cmd.Flags().GetBool("no-probe")
		a.scanner.SkipSubnets = noProbe

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*a.timeout)
		defer cancel()
		hubs := a.scanner.Discover(ctx, func(p discovery.ScanProgress) {
			a.logger.Debug("scan progress", "phase", p.Phase, "found", len(p.Hubs))
		})
		if hubs == nil {
			hubs = []discovery.DiscoveredHub{}
		}
		return a.printJSON(hubs)
	},
}

// --- Long running ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Track device state, using the direct callback when possible",
	Args:  cobra.NoArgs,
	RunE: connected(func(cmd *cobra.Command, args []string, a *App) error {
		listen, _ := cmd.Flags().GetString("listen")
		advertise, _ := cmd.Flags().GetString("advertise-ip")
		noDirect, _ := cmd.Flags().GetBool("no-direct")

		settings := a.store.GetSettings()
		if listen == "" {
			listen = net.JoinHostPort(settings.DirectIP, strconv.Itoa(settings.DirectPort))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := a.Serve(ctx, listen, advertise, !noDirect)
		a.logger.Info("stopped")
		return err
	}),
}

func queryFlag(cmd *cobra.Command) string {
	q, _ := cmd.Flags().GetString("query")
	return q
}

func init() {
	hubAddCmd.Flags().String("name", "", "Profile name")
	hubAddCmd.Flags().String("url", "", "SmartApp endpoint base URL")
	hubAddCmd.Flags().String("app-id", "", "SmartApp installation id")
	hubAddCmd.Flags().String("token", "", "SmartApp access token")
	hubAddCmd.Flags().String("hub-ip", "", "Hub LAN address")
	hubAddCmd.Flags().Bool("local", false, "Send commands to the hub on the LAN")
	hubAddCmd.Flags().String("platform", string(hub.PlatformSmartThings), "Hub platform")
	_ = hubAddCmd.MarkFlagRequired("app-id")

	hubUseLocalCmd.Flags().Bool("off", false, "Record the address but keep commands on the cloud route")

	hubCmd.AddCommand(hubAddCmd, hubListCmd, hubRemoveCmd, hubSelectCmd, hubUseLocalCmd)

	for _, c := range []*cobra.Command{devicesCmd, deviceCmd, updatesCmd, subscriptionCmd} {
		c.Flags().StringP("query", "q", "", "JSONPath expression to apply to the answer, e.g. '$.deviceList[*].name'")
	}

	discoverCmd.Flags().Bool("no-probe", false, "Only use mDNS, do not probe local subnets")

	serveCmd.Flags().String("listen", "", "Address for the direct-callback receiver (default from settings)")
	serveCmd.Flags().String("advertise-ip", "", "Address the hub should call back on (default: detected)")
	serveCmd.Flags().Bool("no-direct", false, "Poll for updates instead of using the direct callback")

	rootCmd.AddCommand(hubCmd, devicesCmd, deviceCmd, updatesCmd, subscriptionCmd, runCmd, directCmd, discoverCmd, serveCmd)
}
