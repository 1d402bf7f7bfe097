package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sockstun/sockstun/core/diagnose"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [error message]",
	Short: "Classify a raw error message into a category, severity and remedy list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := strings.Join(args, " ")
		d := diagnose.Diagnose(msg)

		fmt.Printf("reason:   %s\n", d.Reason)
		fmt.Printf("category: %s\n", d.Category)
		fmt.Printf("severity: %s\n", d.Severity)
		fmt.Printf("fixable:  %t\n", d.Fixable)
		if len(d.Remedies) > 0 {
			fmt.Println("remedies:")
			for _, r := range d.Remedies {
				fmt.Println("  -", r)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}
