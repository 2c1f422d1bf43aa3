package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// writeJSON prints v for --json consumers, without HTML escaping.
func writeJSON(cmd *cobra.Command, v any) error {
	return encodeJSON(cmd.OutOrStdout(), v)
}

// writeJSONError reports a failed command as {"error": "..."}.
func writeJSONError(w io.Writer, err error) error {
	return encodeJSON(w, map[string]string{"error": err.Error()})
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
