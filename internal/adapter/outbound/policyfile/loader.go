// Package policyfile loads the security policy from YAML and watches the
// file for changes.
package policyfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
)

// Loaded is a parsed policy plus the hash of the bytes it came from.
type Loaded struct {
	Policy policy.SecurityPolicy
	// Hash is "sha256:<hex>" of the file contents, or of empty input when the
	// built-in default policy is used.
	Hash string
	// Path is the file read, empty for the built-in default.
	Path string
}

// Load reads path. An empty path yields the built-in default policy. Keys
// absent from the file keep their default values; unknown keys are an error.
func Load(path string) (Loaded, error) {
	if path == "" {
		return Loaded{Policy: policy.Default(), Hash: hashOf(nil)}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read policy file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Loaded{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return Loaded{Policy: p, Hash: hashOf(data), Path: path}, nil
}

// Parse decodes a YAML policy document over the default policy and
// validates the result.
func Parse(data []byte) (policy.SecurityPolicy, error) {
	p := policy.Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return policy.SecurityPolicy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return policy.SecurityPolicy{}, err
	}
	return p, nil
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
