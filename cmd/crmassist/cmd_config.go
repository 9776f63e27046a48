// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCRM/services/assistant/config"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config, then print the effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprint(w, string(out))
			if err := cfg.RequireAPIKey(); err != nil {
				fmt.Fprintln(w, "# warning:", err)
			}
			return nil
		},
	}

	cmd.AddCommand(schema, validate)
	return cmd
}

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := tools.NewCRMRegistry()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.List())
			}
			for _, spec := range reg.List() {
				fmt.Fprintf(w, "%s\n  %s\n", styleBoldCyan.Render(spec.Name), spec.Description)
				if names := spec.ParamNames(); len(names) > 0 {
					required := make(map[string]bool)
					for _, r := range spec.RequiredParams() {
						required[r] = true
					}
					params := make([]string, len(names))
					for i, n := range names {
						if required[n] {
							n += "*"
						}
						params[i] = n
					}
					fmt.Fprintf(w, "  %s\n", styleGray.Render("params: "+strings.Join(params, ", ")))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}
