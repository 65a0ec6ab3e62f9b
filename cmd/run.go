package cmd

import (
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgefleet/otawatch/pkg/bringup"
	"github.com/edgefleet/otawatch/pkg/config"
	"github.com/edgefleet/otawatch/pkg/ethlink"
	"github.com/edgefleet/otawatch/pkg/host"
	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/observer"
	"github.com/edgefleet/otawatch/pkg/ota"
	"github.com/edgefleet/otawatch/pkg/sigcontext"
	"github.com/edgefleet/otawatch/pkg/storage"
	"github.com/edgefleet/otawatch/pkg/transport"

	// Registered agent bindings.
	_ "github.com/edgefleet/otawatch/pkg/simulate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bring up the link and launch the update agent",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New("main", logging.Level(viper.GetString("log-level")))

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		return err
	}

	creds, err := cfg.Credentials()
	if err != nil {
		log.WithError(err).Error("unable to load TLS credentials")
		return err
	}
	conn := ota.ConnectionHTTP
	if cfg.TLS {
		conn = ota.ConnectionHTTPS
	}

	factory, err := ota.Binding(cfg.Agent)
	if err != nil {
		log.WithError(err).Error("unable to resolve agent binding")
		return err
	}
	agent, err := factory(logging.New("agent"))
	if err != nil {
		log.WithError(err).Error("unable to construct agent")
		return err
	}

	task, err := bringup.New(logging.New("bringup"), cfg, bringup.Deps{
		Store:     storage.NewFileStore(logging.New("storage"), cfg.DataDir),
		Manager:   ethlink.NewManager(logging.New("ethlink")),
		PHY:       &ethlink.SysfsPHY{Name: ethlink.InterfaceID(cfg.Interface)},
		Bootstrap: transport.NewBootstrap(logging.New("transport"), creds, conn),
		Agent:     agent,
		Observer:  observer.New(logging.New("observer")),
		Rebooter:  host.NewRebooter(logging.New("host")),
	})
	if err != nil {
		log.WithError(err).Error("unable to assemble bring-up task")
		return err
	}

	ctx, cancel := sigcontext.WithSignalCancel(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := task.Run(ctx); err != nil {
		log.WithError(err).Fatal("bring-up failed")
	}
	return nil
}
