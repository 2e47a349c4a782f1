// Package digest computes content digests of verification units and records them in a persistent ledger, so that
// cached proofs can be checked for staleness.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/crytic/kprove/proving/units"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// writeField hashes a length-prefixed field so that adjacent fields cannot run into each other.
func writeField(hasher hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	hasher.Write(length[:])
	hasher.Write(data)
}

// hashContracts hashes the name and bytecodes of every dependency of a contract. Dependencies come sorted by name,
// so the result does not depend on discovery order.
func hashContracts(hasher hash.Hash, project *units.Project, name string) error {
	dependencies, err := project.Dependencies(name)
	if err != nil {
		return err
	}
	for _, contract := range dependencies {
		writeField(hasher, []byte(contract.Name))
		writeField(hasher, contract.Bytecode)
		writeField(hasher, contract.DeployedBytecode)
	}
	return nil
}

// ContractDigest returns the hex keccak-256 digest of a contract and every contract it references.
func ContractDigest(project *units.Project, name string) (string, error) {
	hasher := sha3.NewLegacyKeccak256()
	if err := hashContracts(hasher, project, name); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// UnitDigest returns the hex keccak-256 digest of a unit: its id and method signature together with the bytecode
// of its contract and every contract that contract references.
func UnitDigest(project *units.Project, unit units.Unit) (string, error) {
	contract, ok := project.Contract(unit.Contract)
	if !ok {
		return "", errors.WithStack(&units.UnknownUnitError{Patterns: []string{unit.ID()}})
	}
	method, ok := contract.Method(unit.Signature)
	if !ok {
		return "", errors.WithStack(&units.UnknownUnitError{Patterns: []string{unit.ID()}})
	}

	hasher := sha3.NewLegacyKeccak256()
	writeField(hasher, []byte(unit.ID()))
	writeField(hasher, []byte(method.Sig))
	writeField(hasher, method.ID)
	if err := hashContracts(hasher, project, unit.Contract); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Hash returns the hex keccak-256 digest of data.
func Hash(data []byte) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
