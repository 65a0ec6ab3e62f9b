package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgefleet/otawatch/pkg/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "otawatch",
	Short: "otawatch supervises an over-the-air update agent",
	Long: `otawatch brings up the Ethernet link, prepares the secure transport and
storage layers, launches the configured update-agent binding, and logs every
state transition the agent reports until the update concludes.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/otawatch/otawatch.yaml)")

	rootCmd.PersistentFlags().String("server", "", "update server host")
	rootCmd.PersistentFlags().Int("port", 443, "update server port")
	rootCmd.PersistentFlags().String("job-file", config.DefaultJobFile, "remote job descriptor path")
	rootCmd.PersistentFlags().Bool("tls", true, "connect over TLS")
	rootCmd.PersistentFlags().String("root-ca", "", "root CA bundle file (PEM)")
	rootCmd.PersistentFlags().String("client-cert", "", "client certificate file (PEM)")
	rootCmd.PersistentFlags().String("client-key", "", "client key file (PEM)")
	rootCmd.PersistentFlags().Bool("job-flow", true, "fetch a job descriptor before the image")
	rootCmd.PersistentFlags().StringP("interface", "i", config.DefaultInterface, "Ethernet interface to bring up")
	rootCmd.PersistentFlags().Int("retries", config.DefaultRetries, "link connect attempts before giving up")
	rootCmd.PersistentFlags().Duration("retry-delay", config.DefaultRetryDelay, "wait between link connect attempts")
	rootCmd.PersistentFlags().Int("app-id", config.DefaultAppID, "application identifier for image validation")
	rootCmd.PersistentFlags().Bool("reboot", true, "reboot the host after a successful update")
	rootCmd.PersistentFlags().Bool("validate-after-reboot", true, "defer image validation to the next boot")
	rootCmd.PersistentFlags().Bool("suppress-result", true, "skip posting the session result")
	rootCmd.PersistentFlags().Bool("skip-revert-validation", false, "leave the running image unvalidated (revert testing)")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir, "storage directory for staged images and metadata")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("agent", config.DefaultAgent, "update-agent binding to launch")

	viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server.job-file", rootCmd.PersistentFlags().Lookup("job-file"))
	viper.BindPFlag("tls.enabled", rootCmd.PersistentFlags().Lookup("tls"))
	viper.BindPFlag("tls.root-ca", rootCmd.PersistentFlags().Lookup("root-ca"))
	viper.BindPFlag("tls.client-cert", rootCmd.PersistentFlags().Lookup("client-cert"))
	viper.BindPFlag("tls.client-key", rootCmd.PersistentFlags().Lookup("client-key"))
	viper.BindPFlag("job-flow", rootCmd.PersistentFlags().Lookup("job-flow"))
	viper.BindPFlag("link.interface", rootCmd.PersistentFlags().Lookup("interface"))
	viper.BindPFlag("link.retries", rootCmd.PersistentFlags().Lookup("retries"))
	viper.BindPFlag("link.retry-delay", rootCmd.PersistentFlags().Lookup("retry-delay"))
	viper.BindPFlag("app-id", rootCmd.PersistentFlags().Lookup("app-id"))
	viper.BindPFlag("agent.reboot-on-completion", rootCmd.PersistentFlags().Lookup("reboot"))
	viper.BindPFlag("agent.validate-after-reboot", rootCmd.PersistentFlags().Lookup("validate-after-reboot"))
	viper.BindPFlag("agent.suppress-result-send", rootCmd.PersistentFlags().Lookup("suppress-result"))
	viper.BindPFlag("skip-revert-validation", rootCmd.PersistentFlags().Lookup("skip-revert-validation"))
	viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("agent.binding", rootCmd.PersistentFlags().Lookup("agent"))
}

// initConfig reads in the config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("otawatch")
		viper.AddConfigPath("/etc/otawatch")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("otawatch")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			cobra.CheckErr(err)
		}
	}
}
