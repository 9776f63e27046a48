// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// Secret holds a credential in an encrypted memguard enclave. The zero value
// is an unset secret.
//
// The plaintext is only materialised by Reveal, when a client is built. It
// never appears in String, YAML output or logs.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. An empty value gives an unset Secret.
func NewSecret(value string) Secret {
	if value == "" {
		return Secret{}
	}
	// NewEnclave wipes the slice it is given.
	return Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool {
	return s.enclave != nil
}

// Reveal decrypts the value. The caller should drop the string as soon as
// it has been handed to the client that needs it.
func (s Secret) Reveal() (string, error) {
	if s.enclave == nil {
		return "", nil
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("config: opening secret: %w", err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}

func (s Secret) String() string {
	if s.enclave == nil {
		return ""
	}
	return redacted
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = NewSecret(strings.TrimSpace(v))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

// JSONSchema describes Secret as a plain string in the config schema.
func (Secret) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Model API key. Prefer the GEMINI_API_KEY environment variable.",
	}
}
