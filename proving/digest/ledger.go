package digest

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// bucketName is the bucket every digest is stored in.
var bucketName = []byte("digests")

// ContractKey returns the ledger key of a contract digest.
func ContractKey(name string) string {
	return "contract:" + name
}

// DigestMismatchError is reported when a unit's own digest is up to date but the digest recorded for its contract is
// absent or different, meaning a dependency changed without the ledger noticing.
type DigestMismatchError struct {
	// Unit is the affected unit id.
	Unit string
	// Contract is the contract whose digest does not match.
	Contract string
	// Recorded is the recorded contract digest, empty when none was recorded.
	Recorded string
	// Current is the freshly computed contract digest.
	Current string
}

// Error implements the error interface.
func (e *DigestMismatchError) Error() string {
	if e.Recorded == "" {
		return fmt.Sprintf("no digest recorded for contract %s of unit %s", e.Contract, e.Unit)
	}
	return fmt.Sprintf("digest of contract %s changed for unit %s (recorded %s, current %s)", e.Contract, e.Unit, e.Recorded, e.Current)
}

// Ledger is a persistent mapping from unit ids and contract keys to their last recorded digests. It is safe for
// concurrent use; bbolt serializes writers.
type Ledger struct {
	db *bbolt.DB
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if err := utils.MakeDirectory(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open digest ledger %s", path)
	}

	// create the bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return errors.WithStack(l.db.Close())
}

// Recorded returns the digest recorded for key and whether one exists.
func (l *Ledger) Recorded(key string) (string, bool, error) {
	var digest string
	found := false
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		digest = string(data)
		return nil
	})
	if err != nil {
		return "", false, errors.WithStack(err)
	}
	return digest, found, nil
}

// IsUpToDate reports whether the digest recorded for key exists and equals digest.
func (l *Ledger) IsUpToDate(key string, digest string) (bool, error) {
	recorded, found, err := l.Recorded(key)
	if err != nil {
		return false, err
	}
	return found && recorded == digest, nil
}

// Record stores digest for key.
func (l *Ledger) Record(key string, digest string) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(digest))
	})
	return errors.WithStack(err)
}

// Status is the outcome of checking a unit against the ledger.
type Status struct {
	// UnitDigest is the freshly computed unit digest.
	UnitDigest string
	// ContractDigest is the freshly computed digest of the unit's contract.
	ContractDigest string
	// UpToDate is set when the recorded unit digest matches UnitDigest.
	UpToDate bool
	// Mismatch is set when the unit is up to date but its contract digest is not.
	Mismatch *DigestMismatchError
}

// Check computes the digests of a unit and compares them with the recorded ones.
func (l *Ledger) Check(project *units.Project, unit units.Unit) (Status, error) {
	var status Status
	var err error
	if status.UnitDigest, err = UnitDigest(project, unit); err != nil {
		return status, err
	}
	if status.ContractDigest, err = ContractDigest(project, unit.Contract); err != nil {
		return status, err
	}
	if status.UpToDate, err = l.IsUpToDate(unit.ID(), status.UnitDigest); err != nil || !status.UpToDate {
		return status, err
	}

	recorded, _, err := l.Recorded(ContractKey(unit.Contract))
	if err != nil {
		return status, err
	}
	if recorded != status.ContractDigest {
		status.Mismatch = &DigestMismatchError{
			Unit:     unit.ID(),
			Contract: unit.Contract,
			Recorded: recorded,
			Current:  status.ContractDigest,
		}
	}
	return status, nil
}

// RecordUnit records the current unit and contract digests of a unit in a single transaction.
func (l *Ledger) RecordUnit(project *units.Project, unit units.Unit) error {
	unitDigest, err := UnitDigest(project, unit)
	if err != nil {
		return err
	}
	contractDigest, err := ContractDigest(project, unit.Contract)
	if err != nil {
		return err
	}
	err = l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if err := bucket.Put([]byte(unit.ID()), []byte(unitDigest)); err != nil {
			return err
		}
		return bucket.Put([]byte(ContractKey(unit.Contract)), []byte(contractDigest))
	})
	return errors.WithStack(err)
}
