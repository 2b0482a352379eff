package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/repo-bootstrap/internal/service/fetcher"
)

// checksumCmd prints the value expected by the checksum setting.
var checksumCmd = &cobra.Command{
	Use:   "checksum <archive>",
	Short: "Print the base64 SHA512 of an archive for the checksum setting.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := fetcher.EncodedFileChecksum(args[0])
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), sum)

		return err
	},
}
