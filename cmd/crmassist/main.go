// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command crmassist runs the CRM assistant.
//
// The assistant answers chat messages with a two-round model exchange and
// can call CRM tools in between: document search, lead capture and updates,
// appointment scheduling, email drafts and support tickets.
//
// Usage:
//
//	crmassist serve                   # HTTP API on :8088
//	crmassist chat                    # terminal chat, no server
//	crmassist tools                   # list the tool catalog
//	crmassist config schema           # JSON schema of the config file
//	crmassist config validate -c f    # check a config file
//
// The model API key is read from GEMINI_API_KEY (or GOOGLE_API_KEY). Other
// settings come from the config file and CRM_ASSIST_* variables.
//
// Example requests:
//
//	# Start a conversation
//	curl -X POST http://localhost:8088/v1/assistant/sessions
//
//	# Send a message and wait for the reply
//	curl -X POST http://localhost:8088/v1/assistant/sessions/$ID/messages \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "Add Maria Lopez, maria@x.com, as a lead", "wait": true}'
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCRM/services/assistant/config"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "crmassist",
		Short:         "Conversational assistant for the CRM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (defaults are embedded)")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newToolsCmd(),
		newConfigCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
