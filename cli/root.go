package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "byteme",
	Short: "ByteMe order processing services",
	Long: `ByteMe runs one service per subcommand. Every service reads its
configuration from the environment (and a .env file when present).

Examples:
  byteme order
  PORT=6002 byteme order
  byteme bus setup`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(
		customerCmd,
		cartCmd,
		orderCmd,
		deliveryCmd,
		recommendationCmd,
		paymentCmd,
		emailCmd,
		purchaseCmd,
		refundCmd,
		inventoryCmd,
		busCmd,
	)
}

// Execute runs the command named on the command line.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
