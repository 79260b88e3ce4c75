package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain <recordID>",
	Short: "Show the conversation chain around a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

var chainLength int

func init() {
	chainCmd.Flags().IntVarP(&chainLength, "length", "n", 10, "Maximum chain length")
}

func runChain(cmd *cobra.Command, args []string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	defer svc.Close()

	chain, err := svc.GetChain(args[0], chainLength)
	if err != nil {
		return fmt.Errorf("chain lookup failed: %w", err)
	}

	if verbose {
		printJSON(chain)
		return nil
	}
	for _, r := range chain {
		marker := " "
		if r.ID == args[0] {
			marker = "*"
		}
		fmt.Printf("%s %3d %-5s %s\n", marker, r.SequencePosition, r.Role, snippet(r.Content, 100))
	}
	return nil
}
