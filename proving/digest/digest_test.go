package digest

import (
	"path/filepath"
	"testing"

	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/proving/units/unitstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// discover writes the artifacts into a fresh directory and discovers them.
func discover(t *testing.T, artifacts ...unitstest.Artifact) *units.Project {
	project, err := units.Discover(unitstest.WriteProject(t, t.TempDir(), artifacts...))
	require.NoError(t, err)
	return project
}

var (
	suite   = unitstest.Artifact{Name: "VaultTest", Methods: []string{"setUp()", "test_deposit(uint256)", "test_withdraw()"}, Bytecode: "60806040", Links: []string{"SafeMath"}}
	library = unitstest.Artifact{Name: "SafeMath", Methods: []string{"add(uint256,uint256)"}, Bytecode: "6055"}
	other   = unitstest.Artifact{Name: "Other", Methods: []string{"f()"}, Bytecode: "6001"}
)

var deposit = units.Unit{Contract: "VaultTest", Signature: "test_deposit(uint256)"}

// TestUnitDigestDeterministic checks that digests are stable and differ per method.
func TestUnitDigestDeterministic(t *testing.T) {
	t.Parallel()
	project := discover(t, suite, library, other)

	first, err := UnitDigest(project, deposit)
	require.NoError(t, err)
	second, err := UnitDigest(project, deposit)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	withdraw, err := UnitDigest(project, units.Unit{Contract: "VaultTest", Signature: "test_withdraw()"})
	require.NoError(t, err)
	assert.NotEqual(t, first, withdraw)

	// The same contracts discovered from another directory give the same digest.
	again, err := UnitDigest(discover(t, other, library, suite), deposit)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = UnitDigest(project, units.Unit{Contract: "VaultTest", Signature: "test_missing()"})
	var unknownErr *units.UnknownUnitError
	assert.ErrorAs(t, err, &unknownErr)
}

// TestDigestCoversDependencies checks that changing a referenced contract changes the digest and that unrelated
// contracts do not.
func TestDigestCoversDependencies(t *testing.T) {
	t.Parallel()
	base := discover(t, suite, library, other)
	baseUnit, err := UnitDigest(base, deposit)
	require.NoError(t, err)
	baseContract, err := ContractDigest(base, "VaultTest")
	require.NoError(t, err)

	changedLibrary := library
	changedLibrary.Bytecode = "6056"
	changed := discover(t, suite, changedLibrary, other)
	changedUnit, err := UnitDigest(changed, deposit)
	require.NoError(t, err)
	changedContract, err := ContractDigest(changed, "VaultTest")
	require.NoError(t, err)
	assert.NotEqual(t, baseUnit, changedUnit)
	assert.NotEqual(t, baseContract, changedContract)

	changedOther := other
	changedOther.Bytecode = "6002"
	unrelated, err := UnitDigest(discover(t, suite, library, changedOther), deposit)
	require.NoError(t, err)
	assert.Equal(t, baseUnit, unrelated)
}

// TestLedger checks recording and up-to-date checks against the bbolt ledger, including persistence across reopens.
func TestLedger(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "kprove", "digest.db")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)

	upToDate, err := ledger.IsUpToDate("A.test()", "abc")
	require.NoError(t, err)
	assert.False(t, upToDate, "absent digests are never up to date")

	require.NoError(t, ledger.Record("A.test()", "abc"))
	upToDate, err = ledger.IsUpToDate("A.test()", "abc")
	require.NoError(t, err)
	assert.True(t, upToDate)
	upToDate, err = ledger.IsUpToDate("A.test()", "abd")
	require.NoError(t, err)
	assert.False(t, upToDate)
	require.NoError(t, ledger.Close())

	reopened, err := OpenLedger(path)
	require.NoError(t, err)
	defer reopened.Close()
	recorded, found, err := reopened.Recorded("A.test()")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", recorded)
}

// TestCheck checks the unit status computed against the ledger, including the stale dependency case.
func TestCheck(t *testing.T) {
	t.Parallel()
	project := discover(t, suite, library)
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	defer ledger.Close()

	status, err := ledger.Check(project, deposit)
	require.NoError(t, err)
	assert.False(t, status.UpToDate)
	assert.Nil(t, status.Mismatch)

	require.NoError(t, ledger.RecordUnit(project, deposit))
	status, err = ledger.Check(project, deposit)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	assert.Nil(t, status.Mismatch)

	// The unit digest was recorded but the contract digest was lost.
	require.NoError(t, ledger.Record(ContractKey("VaultTest"), ""))
	status, err = ledger.Check(project, deposit)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	require.NotNil(t, status.Mismatch)
	assert.Equal(t, "VaultTest", status.Mismatch.Contract)
	assert.Contains(t, status.Mismatch.Error(), "no digest recorded")

	// A changed dependency changes the unit digest itself.
	changedLibrary := library
	changedLibrary.Bytecode = "60ff"
	status, err = ledger.Check(discover(t, suite, changedLibrary), deposit)
	require.NoError(t, err)
	assert.False(t, status.UpToDate)
}
