package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmerrifield20/GreenLedger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultServerURL = "http://localhost:8080"

var (
	serverURL    string
	cfgFile      string
	outputFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "greenledger",
	Short: "GreenLedger supply-chain ledger CLI",
	Long: `greenledger is the command-line interface for a GreenLedger server.

Sign in as a supply-chain role, record production stages for a batch,
inspect and verify batch chains, and look up the public certificate of
any batch.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(configDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("greenledger")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = defaultServerURL
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.greenledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "GreenLedger server URL (default "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("greenledger %s\n", version)
	},
}

// configDir returns ~/.greenledger, falling back to the working directory.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".greenledger"
	}
	return filepath.Join(home, ".greenledger")
}

// newClient builds an SDK client carrying the saved session, if any.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if s, err := loadSession(); err == nil && s.Token != "" {
		opts = append(opts, client.WithToken(s.Token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool { return strings.EqualFold(outputFormat, "json") }

// parseFields turns key=value pairs into a payload. Values that parse as
// numbers or booleans keep that type; everything else stays a string.
func parseFields(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("field %q must be key=value", p)
		}
		v = strings.TrimSpace(v)
		switch {
		case isNumber(v):
			out[k] = json.Number(v)
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			out[k] = v
		}
	}
	return out, nil
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && !strings.ContainsAny(s, "xXpP_") && !strings.EqualFold(s, "nan") && !strings.Contains(strings.ToLower(s), "inf")
}

func validMark(ok bool) string {
	if ok {
		return "✓ valid"
	}
	return "✗ TAMPERED"
}
