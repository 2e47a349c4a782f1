package units

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
)

// Contract is a compiled contract read from a foundry build artifact.
type Contract struct {
	// Name is the contract name, taken from the artifact file name.
	Name string

	// ArtifactPath is the artifact path relative to the build output directory.
	ArtifactPath string

	// ABI describes the methods of the contract.
	ABI abi.ABI

	// Bytecode is the init bytecode. Unlinked bytecode keeps its library placeholders in hex text form.
	Bytecode []byte

	// DeployedBytecode is the runtime bytecode, with the same placeholder rule as Bytecode.
	DeployedBytecode []byte

	// LinkReferences holds the names of the libraries the bytecode must be linked against, sorted.
	LinkReferences []string
}

// foundryBytecode is the bytecode object of a foundry artifact.
type foundryBytecode struct {
	Object string `json:"object"`
	// LinkReferences maps source paths to library names to placeholder offsets.
	LinkReferences map[string]map[string]json.RawMessage `json:"linkReferences"`
}

// foundryArtifact is the subset of a foundry artifact kprove reads.
type foundryArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         foundryBytecode `json:"bytecode"`
	DeployedBytecode foundryBytecode `json:"deployedBytecode"`
}

// decodeBytecode decodes a hex bytecode object. Objects holding library placeholders ("__$...$__") are not valid hex
// and are kept as text.
func decodeBytecode(object string) []byte {
	if strings.Contains(object, "__") {
		return []byte(strings.TrimPrefix(object, "0x"))
	}
	return common.FromHex(object)
}

// parseArtifact parses the content of a foundry artifact.
func parseArtifact(name string, artifactPath string, data []byte) (*Contract, error) {
	var artifact foundryArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, errors.Wrapf(err, "unable to parse artifact %s", artifactPath)
	}
	if len(artifact.ABI) == 0 {
		return nil, errors.Errorf("artifact %s has no abi", artifactPath)
	}
	contractABI, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse abi of artifact %s", artifactPath)
	}

	links := make(map[string]struct{})
	for _, libraries := range artifact.Bytecode.LinkReferences {
		for library := range libraries {
			links[library] = struct{}{}
		}
	}

	return &Contract{
		Name:             name,
		ArtifactPath:     artifactPath,
		ABI:              contractABI,
		Bytecode:         decodeBytecode(artifact.Bytecode.Object),
		DeployedBytecode: decodeBytecode(artifact.DeployedBytecode.Object),
		LinkReferences:   slices.Sorted(maps.Keys(links)),
	}, nil
}

// Method returns the ABI method with the given signature, e.g. "test_add(uint256,uint256)".
func (c *Contract) Method(signature string) (abi.Method, bool) {
	for _, method := range c.ABI.Methods {
		if method.Sig == signature {
			return method, true
		}
	}
	return abi.Method{}, false
}

// Signatures returns the signatures of every method of the contract, sorted.
func (c *Contract) Signatures() []string {
	signatures := make([]string, 0, len(c.ABI.Methods))
	for _, method := range c.ABI.Methods {
		signatures = append(signatures, method.Sig)
	}
	slices.Sort(signatures)
	return signatures
}

// HasSetup reports whether the contract declares a setUp() method.
func (c *Contract) HasSetup() bool {
	_, ok := c.Method(SetupSignature)
	return ok
}

// IsTestContract reports whether the contract is a test suite, i.e. its name ends with "Test".
func (c *Contract) IsTestContract() bool {
	return strings.HasSuffix(c.Name, "Test")
}
