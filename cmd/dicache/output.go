package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

// emit writes v as one JSON document when --json is set, else calls text.
func emit(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := sonnet.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	return text(w)
}
