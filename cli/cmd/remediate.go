package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sockstun/sockstun/core/remediate"
)

var remediateHop2 bool

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Run server-side repair phases against a hop (connectivity, sshd, hardening, perf, verify)",
	RunE:  runRemediate,
}

func init() {
	rootCmd.AddCommand(remediateCmd)
	remediateCmd.Flags().BoolVar(&remediateHop2, "bridge", false, "remediate the second hop instead of the first")
}

func runRemediate(cmd *cobra.Command, args []string) error {
	cfg, err := loadTunnelConfig()
	if err != nil {
		return err
	}

	hop := cfg.Hop1
	if remediateHop2 {
		hop = cfg.Hop2
	}

	ctx := context.Background()
	report, err := remediate.Run(ctx, hop)
	for _, phase := range report.Phases {
		status := "ok"
		if !phase.Success {
			status = "FAILED"
		}
		fmt.Printf("[%s] %s\n", status, phase.Phase)
		fmt.Println(phase.Output)
	}
	if err != nil {
		return fmt.Errorf("remediation aborted: %w", err)
	}

	if report.Verified {
		fmt.Println("verification: PASSED")
	} else {
		fmt.Println("verification: INCOMPLETE")
	}
	return nil
}
