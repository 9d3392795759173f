package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dockless",
	Short: "Container-free process supervisor",
	Long: `dockless runs and supervises native service binaries without a
container runtime — lifecycle, artifact installs, ports, and logs
managed by one daemon and driven over its local API.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Has no effect: no command reads this flag")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
