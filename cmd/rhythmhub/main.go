// Command rhythmhub runs either the hub, which hosts rooms and radio channels for players
// connecting over TCP or WebRTC, or a headless client that connects to a hub.
// Without a subcommand it asks interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rhythmhub/internal/app"
	"github.com/1ureka/rhythmhub/internal/config"
	"github.com/1ureka/rhythmhub/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var debug bool
	rootCmd := &cobra.Command{
		Use:   "rhythmhub",
		Short: "Multiplayer session hub for rhythm games",
		PersistentPreRun: func(*cobra.Command, []string) {
			if debug {
				util.EnableDebug()
			}
			pterm.Info.Println(fmt.Sprintf("rhythmhub v%s (protocol %s)", version, config.ProtocolVersion))
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(hubCmd(), clientCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func hubCmd() *cobra.Command {
	var (
		path       string
		listen     string
		httpAddr   string
		library    string
		maxPlayers int
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run a hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadHub(path)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.ListenAddr = listen
			}
			if flags.Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if flags.Changed("songs") {
				cfg.SongLibrary = library
			}
			if flags.Changed("max-players") {
				cfg.MaxPlayers = maxPlayers
			}
			if flags.Changed("debug") {
				cfg.Debug = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return app.RunHub(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "TCP listen address for game traffic")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address for signaling and metrics; empty disables")
	cmd.Flags().StringVar(&library, "songs", "", "JSON song library")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "Maximum connected players")
	return cmd
}

func clientCmd() *cobra.Command {
	var (
		path      string
		hubAddr   string
		signalURL string
		name      string
		id        uint64
		opts      app.BotOptions
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect a headless client to a hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(path)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("hub") {
				cfg.HubAddr = hubAddr
				cfg.Transport = config.TransportTCP
			}
			if flags.Changed("signal") {
				u, err := app.NormalizeSignalURL(signalURL)
				if err != nil {
					return err
				}
				cfg.SignalURL = u
				cfg.Transport = config.TransportWebRTC
			}
			if flags.Changed("name") {
				cfg.PlayerName = name
			}
			if flags.Changed("id") {
				cfg.PlayerID = id
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return app.RunClient(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&hubAddr, "hub", "", "Hub TCP address (host:port)")
	cmd.Flags().StringVar(&signalURL, "signal", "", "Hub signaling URL; selects the WebRTC transport")
	cmd.Flags().StringVar(&name, "name", "", "Player name")
	cmd.Flags().Uint64Var(&id, "id", 0, "Player id; random when zero")
	cmd.Flags().StringVar(&opts.CreateRoom, "create", "", "Create a room with this name")
	cmd.Flags().Uint32Var(&opts.JoinRoom, "join", 0, "Join the room with this id")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Room password")
	cmd.Flags().Int32Var(&opts.Channel, "channel", -1, "Join the radio channel with this id")
	return cmd
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive asks for the role and the few settings each role needs.
func runInteractive(ctx context.Context) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Hub    : Host rooms for players", "Client : Connect to a hub"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Hub") {
		cfg := config.DefaultHub()
		cfg.ListenAddr = fmt.Sprintf(":%d", askPort("Game port (1 ~ 65535)"))
		return app.RunHub(ctx, cfg)
	}

	cfg := config.DefaultClient()
	cfg.HubAddr = askText("Hub address (host:port)", cfg.HubAddr)
	cfg.PlayerName = askText("Player name", cfg.PlayerName)
	if err := cfg.Validate(); err != nil {
		return err
	}
	return app.RunClient(ctx, cfg, app.BotOptions{Channel: -1})
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askText prompts for a value, keeping def when the answer is blank.
func askText(prompt, def string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("%s [%s]", prompt, def)).
		Show()
	pterm.Println()

	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return def
}
