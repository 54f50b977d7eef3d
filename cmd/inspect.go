package cmd

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/cs3org/sweettooth/internal/archive"
	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/shellversion"
	"github.com/spf13/cobra"
)

var inspectFlags = struct {
	Files bool
}{}

type inspectRes struct {
	Metadata      archive.Metadata `json:"metadata"`
	Extra         archive.Metadata `json:"extra"`
	ShellVersions []string         `json:"shell_versions,omitempty"`
	Files         []string         `json:"files,omitempty"`
}

// inspectCmd runs the extraction done on upload on a local archive
var inspectCmd = &cobra.Command{
	Use:   "inspect <archive.zip>",
	Short: "Print the metadata of an extension archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		md, err := archive.ExtractBytes(data)
		if err != nil {
			var im *errtypes.InvalidMetadata
			if errors.As(err, &im) {
				for _, issue := range im.Issues {
					cmd.PrintErrln(issue)
				}
			}
			return err
		}

		res := inspectRes{Metadata: md, Extra: md.Extra()}
		for _, c := range shellversion.FromExtra(res.Extra) {
			res.ShellVersions = append(res.ShellVersions, c.String())
		}
		if inspectFlags.Files {
			files, err := archive.Files(data)
			if err != nil {
				return err
			}
			for _, f := range files {
				res.Files = append(res.Files, f.Name)
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectFlags.Files, "files", false, "list the files of the archive")
	rootCmd.AddCommand(inspectCmd)
}
