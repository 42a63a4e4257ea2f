package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/gmgn-wallet/internal/broker"
	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	clienthttp "github.com/quantumauth-io/gmgn-wallet/internal/http"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/units"
	"github.com/quantumauth-io/quantum-go-utils/log"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configFile string
	network    string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           constants.AppName,
		Short:         "Passkey-gated wallet for EVM test networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "", "Network id to use for this command")

	rootCmd.AddCommand(
		serveCmd(),
		createCmd(),
		loadCmd(),
		balanceCmd(),
		networksCmd(),
		sendCmd(),
		messageCmd(),
		signCmd(),
		receiveCmd(),
		resetCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// withApp builds the wallet stack, runs fn and tears the stack down.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, configFile, network)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local wallet API on loopback",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			log.Info(constants.AppName,
				"version", Version,
				"commit", Commit,
				"build_date", BuildDate,
			)

			srv, err := clienthttp.NewServer(clienthttp.Options{
				Session:        a.sess,
				Registry:       a.registry,
				Prefs:          a.prefs,
				AllowedOrigins: a.cfg.ClientSettings.AllowedOrigins,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "session token: %s\n", srv.Token())

			return srv.ListenAndServe(ctx, a.cfg.Addr())
		}),
	}
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a wallet sealed by the platform authenticator",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			rec, err := a.sess.CreateWallet(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created wallet %q\n", units.TrimName(rec.DisplayName, 10))
			return nil
		}),
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Unlock the wallet and print its address",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			addr, err := a.sess.LoadWallet(ctx)
			if err != nil {
				return err
			}
			fmt.Println(addr.Hex())
			return nil
		}),
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the balance on the active network",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			if _, err := a.sess.LoadWallet(ctx); err != nil {
				return err
			}
			bal, err := a.sess.RefreshBalance(ctx)
			if err != nil {
				return err
			}
			printBalance(a, bal)
			return nil
		}),
	}
}

func printBalance(a *app, bal session.Balance) {
	fmt.Printf("%s %s on %s\n",
		units.FormatBalance(bal.Wei, 6),
		a.registry.AssetSymbol(bal.Network),
		a.registry.DisplayName(bal.Network),
	)
}

func networksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List networks and manage network preferences",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ []string) error {
			available, err := a.prefs.AvailableNetworks()
			if err != nil {
				return err
			}
			def, err := a.prefs.DefaultNetwork()
			if err != nil {
				return err
			}
			enabled := map[string]bool{}
			for _, id := range available {
				enabled[id] = true
			}
			for _, p := range a.registry.List() {
				mark := " "
				if p.ID == def {
					mark = "*"
				}
				state := "disabled"
				if enabled[p.ID] {
					state = "enabled"
				}
				fmt.Printf("%s %-18s %-18s %-5s %s\n", mark, p.ID, p.DisplayName, p.NativeAssetSymbol, state)
			}
			return nil
		}),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "default <id>",
			Short: "Save the network used at startup",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(_ context.Context, a *app, args []string) error {
				return a.prefs.SetDefaultNetwork(args[0])
			}),
		},
		&cobra.Command{
			Use:   "enable <id>...",
			Short: "Save the list of enabled networks",
			Args:  cobra.MinimumNArgs(1),
			RunE: withApp(func(_ context.Context, a *app, args []string) error {
				return a.prefs.SetAvailableNetworks(args)
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Enable every network again",
			Args:  cobra.NoArgs,
			RunE: withApp(func(_ context.Context, a *app, _ []string) error {
				return a.prefs.ResetAvailableNetworks()
			}),
		},
	)
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <to> <amount>",
		Short: "Send native currency",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return submit(ctx, a, broker.NewTransfer(args[0], args[1]))
		}),
	}
}

func messageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <to> <text>",
		Short: "Send a zero-value transaction carrying a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return submit(ctx, a, broker.NewMessage(args[0], strings.Join(args[1:], " ")))
		}),
	}
}

func submit(ctx context.Context, a *app, d *broker.Draft) error {
	if _, err := a.sess.LoadWallet(ctx); err != nil {
		return err
	}

	est, err := broker.NewEstimator(a.sess).Estimate(ctx, d)
	if err != nil {
		return err
	}
	symbol := a.registry.AssetSymbol(est.Network())
	fmt.Printf("network:  %s\n", a.registry.DisplayName(est.Network()))
	fmt.Printf("from:     %s\n", est.From().Hex())
	fmt.Printf("gas:      %d @ %s gwei\n", est.GasUnits, units.FormatGwei(est.GasPrice))
	fmt.Printf("max cost: %s %s\n", units.FormatEther(est.TotalCost), symbol)

	ref, err := broker.New(a.sess).Submit(ctx, d, est)
	if err != nil {
		if kind, ok := broker.SubmissionKindOf(err); ok {
			return fmt.Errorf("%s: %w", kind, err)
		}
		return err
	}

	fmt.Printf("tx:       %s\n", ref.Hash.Hex())
	if ref.ExplorerURL != "" {
		fmt.Printf("explorer: %s\n", ref.ExplorerURL)
	}
	return nil
}

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <message>",
		Short: "Sign a personal message",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if _, err := a.sess.LoadWallet(ctx); err != nil {
				return err
			}
			signed, err := broker.New(a.sess).SignMessage(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("address:   %s\n", signed.Address.Hex())
			fmt.Printf("signature: %s\n", signed.Signature.String())
			return nil
		}),
	}
}

func receiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receive",
		Short: "Show the wallet address as a QR code",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			addr, err := a.sess.LoadWallet(ctx)
			if err != nil {
				return err
			}
			return printQR(addr)
		}),
	}
}

func printQR(addr common.Address) error {
	q, err := qrcode.New(addr.Hex(), qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Println(q.ToSmallString(false))
	fmt.Println(addr.Hex())
	return nil
}

func resetCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the wallet on this device",
		Long: "Forget the wallet on this device. The authenticator credential is kept, " +
			"but without its handle the wallet and its funds are not recoverable.",
		Args: cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ []string) error {
			if !confirm {
				return errors.New("reset needs --yes")
			}
			return a.sess.Reset()
		}),
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the reset")
	return cmd
}
