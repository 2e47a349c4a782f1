// Package unitstest writes foundry build artifacts for tests.
package unitstest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crytic/kprove/utils/testutils"
	"github.com/stretchr/testify/require"
)

// Artifact describes a contract to be written as a foundry build artifact.
type Artifact struct {
	// Name is the contract name.
	Name string
	// Methods holds method signatures, e.g. "test_add(uint256,uint256)".
	Methods []string
	// Bytecode is the hex init bytecode without the 0x prefix.
	Bytecode string
	// Links holds the libraries the bytecode links against. Each gets a placeholder appended to the bytecode.
	Links []string
}

// abiEntry is a function entry of a contract ABI.
type abiEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	Inputs          []abiInput `json:"inputs"`
	Outputs         []abiInput `json:"outputs"`
	StateMutability string     `json:"stateMutability"`
}

type abiInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// entryOf builds the ABI entry of a signature without nested tuples.
func entryOf(t *testing.T, signature string) abiEntry {
	name, rest, ok := strings.Cut(signature, "(")
	require.True(t, ok, "invalid signature %q", signature)
	entry := abiEntry{Type: "function", Name: name, Inputs: []abiInput{}, Outputs: []abiInput{}, StateMutability: "nonpayable"}
	params := strings.TrimSuffix(rest, ")")
	if params == "" {
		return entry
	}
	for i, param := range strings.Split(params, ",") {
		entry.Inputs = append(entry.Inputs, abiInput{Name: fmt.Sprintf("arg%d", i), Type: param})
	}
	return entry
}

// JSON renders the artifact in the foundry layout.
func (a Artifact) JSON(t *testing.T) []byte {
	entries := make([]abiEntry, len(a.Methods))
	for i, signature := range a.Methods {
		entries[i] = entryOf(t, signature)
	}

	object := "0x" + a.Bytecode
	links := make(map[string]map[string][]map[string]int)
	for i, library := range a.Links {
		offset := len(a.Bytecode)/2 + i*20
		object += fmt.Sprintf("__$%034x$__", i+1)
		links["src/"+library+".sol"] = map[string][]map[string]int{library: {{"start": offset, "length": 20}}}
	}

	artifact := map[string]any{
		"abi":              entries,
		"bytecode":         map[string]any{"object": object, "linkReferences": links},
		"deployedBytecode": map[string]any{"object": object, "linkReferences": links},
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	require.NoError(t, err)
	return data
}

// WriteProject writes the artifacts into outDir as <Name>.sol/<Name>.json and returns outDir.
func WriteProject(t *testing.T, outDir string, artifacts ...Artifact) string {
	for _, artifact := range artifacts {
		testutils.WriteTestFile(t, outDir, filepath.Join(artifact.Name+".sol", artifact.Name+".json"), artifact.JSON(t))
	}
	return outDir
}
