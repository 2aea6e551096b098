package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing vertd configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Defaults are merged with the config file, .env and environment variables.
Secrets are not printed. Redirect the output to create a template:

  vertd config dump > config.yaml

Environment variables use the VERTD_ prefix and underscores for nesting.
Example: server.port -> VERTD_SERVER_PORT. PORT, CORS_ORIGINS,
ADMIN_PASSWORD, WEBHOOK_URL and WEBHOOK_PINGS are also read.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	dump := *cfg
	if dump.Admin.Password != "" {
		dump.Admin.Password = "[REDACTED]"
	}
	if dump.Webhook.URL != "" {
		dump.Webhook.URL = "[REDACTED]"
	}

	out, err := yaml.Marshal(dump)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# vertd configuration")
	fmt.Fprintln(w, "# Duration format: 30s, 5m, 1h")
	fmt.Fprintln(w, "# Size format: 512MB, 8GB")
	fmt.Fprintln(w)
	fmt.Fprint(w, string(out))
	return nil
}
