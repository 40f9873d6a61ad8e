package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	current *app
)

var rootCmd = &cobra.Command{
	Use:   "foodagent",
	Short: "Claims, delivers and collects payment for food orders",
	Long: `foodagent is the delivery agent's client for the order service: it lists candidate orders,
claims or ignores them, confirms delivery with the recipient's OTP and reconciles QR payment
collection. Every state transition it observes is journaled to the configured output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := models.LoadConfig(viper.GetViper(), cfgFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		a, err := newApp(cmd.Context(), cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

// flag name -> config key
var persistentFlags = map[string]string{
	"api-base-url":       "api_base_url",
	"api-timeout":        "api_timeout",
	"agent-id":           "agent_id",
	"device-id":          "device_id",
	"auth-token":         "auth_token",
	"otp-length":         "otp_length",
	"poll-interval":      "poll_interval",
	"output-destination": "output_destination",
	"output-path":        "output_path",
	"output-folder":      "output_folder",
	"kafka-broker-list":  "kafka_broker_list",
	"postgres-dsn":       "postgres_dsn",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.foodagent.yaml)")
	flags.String("api-base-url", "http://localhost:8080", "Base URL of the order service")
	flags.Duration("api-timeout", 0, "Per-request timeout")
	flags.String("agent-id", "", "Delivery agent id used to project order ownership")
	flags.String("device-id", "", "Device id sent with every request")
	flags.String("auth-token", "", "Bearer credential")
	flags.Int("otp-length", models.DefaultOTPLength, "Number of digits in a delivery OTP")
	flags.Duration("poll-interval", 0, "Payment status poll interval")
	flags.String("output-destination", "none", "Journal output: none, console, json, parquet, kafka or postgres")
	flags.String("output-path", "", "Base directory for json and parquet journals")
	flags.String("output-folder", "journal", "Folder under the output path")
	flags.String("kafka-broker-list", "localhost:9092", "Kafka broker list")
	flags.String("postgres-dsn", "", "Postgres connection string")

	for name, key := range persistentFlags {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(name)))
	}

	rootCmd.AddCommand(candidatesCmd, claimCmd, ignoreCmd, detailCmd, deliverCmd, collectCmd, confirmPaymentCmd)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if closeErr := closeApp(); closeErr != nil {
		fmt.Fprintln(os.Stderr, renderError(closeErr))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		stop()
		os.Exit(exitCode(err))
	}
}

// closeApp flushes the journal of the last invocation.
func closeApp() error {
	if current == nil {
		return nil
	}
	err := current.Close()
	current = nil
	return err
}

func exitCode(err error) int {
	switch models.Classify(err) {
	case models.ErrorKindAuth:
		return 3
	case models.ErrorKindConflict:
		return 4
	case models.ErrorKindValidation:
		return 2
	case models.ErrorKindCancelled:
		if errors.Is(err, context.Canceled) {
			return 130
		}
	}
	return 1
}
