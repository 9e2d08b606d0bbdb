package main

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/mvanberg/mlarrays/ipc"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:           "inspect <file>",
	Short:         "Print the schema and row counts of an Arrow IPC file",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := ipc.NewCodec().ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		defer func() {
			for _, r := range records {
				r.Release()
			}
		}()

		if len(records) == 0 {
			fmt.Println("empty file")
			return nil
		}

		schema := records[0].Schema()
		fmt.Printf("columns: %d\n", schema.NumFields())
		for i := 0; i < schema.NumFields(); i++ {
			field := schema.Field(i)
			desc := field.Type.String()
			if ext, ok := field.Type.(arrow.ExtensionType); ok {
				desc = fmt.Sprintf("%s (storage %s)", ext.ExtensionName(), ext.StorageType())
			}
			fmt.Printf("  %s: %s\n", field.Name, desc)
		}

		var rows int64
		for _, r := range records {
			rows += r.NumRows()
		}
		fmt.Printf("batches: %d\nrows: %d\n", len(records), rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
