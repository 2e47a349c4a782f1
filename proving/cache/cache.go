// Package cache decides whether a unit's persisted proof can be reused, initializes fresh proofs from front-end
// templates and persists proofs atomically.
package cache

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/crytic/kprove/logging"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving/digest"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
)

// compressedExtension is appended to the file name of compressed proofs.
const compressedExtension = ".zst"

// LoadResult describes where the proof returned by LoadOrInit came from.
type LoadResult string

const (
	// LoadReused means the persisted proof was up to date and was loaded.
	LoadReused LoadResult = "reused"
	// LoadFresh means no usable proof existed or reinitialization was requested.
	LoadFresh LoadResult = "fresh"
	// LoadStale means a persisted proof existed but its digest no longer matched.
	LoadStale LoadResult = "stale"
)

// IsFresh reports whether the proof was built from templates and must be explored from scratch.
func (r LoadResult) IsFresh() bool {
	return r != LoadReused
}

// Options describes where and how proofs are persisted.
type Options struct {
	// ProofDirectory holds one file per unit.
	ProofDirectory string
	// Format is the encoding new files are written in.
	Format proof.Format
	// Compress zstd-compresses new files.
	Compress bool
	// Reinit discards persisted proofs.
	Reinit bool
	// BMCDepth makes fresh proofs bounded proofs when set.
	BMCDepth *int
}

// Cache owns the proof directory and consults the digest ledger. Each unit's file is only touched by the worker
// processing that unit, so the Cache itself holds no locks.
type Cache struct {
	// options is fixed for the lifetime of the cache.
	options Options

	// project is the set of contracts digests are computed over.
	project *units.Project

	// ledger records digests of successfully explored units.
	ledger *digest.Ledger

	// frontEnd supplies templates for fresh proofs.
	frontEnd FrontEnd

	// logger describes the Logger used by the cache.
	logger *logging.Logger
}

// New creates a Cache.
func New(options Options, project *units.Project, ledger *digest.Ledger, frontEnd FrontEnd) *Cache {
	return &Cache{
		options:  options,
		project:  project,
		ledger:   ledger,
		frontEnd: frontEnd,
		logger:   logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.CACHE_SERVICE),
	}
}

// ProofFileName returns the file name of a unit's proof: the keccak-256 digest of its id with an extension naming
// the format.
func ProofFileName(id string, format proof.Format, compress bool) string {
	name := digest.Hash([]byte(id)) + "." + string(format)
	if compress {
		name += compressedExtension
	}
	return name
}

// formatOf derives the proof format from a file name.
func formatOf(path string) (proof.Format, bool) {
	ext := filepath.Ext(strings.TrimSuffix(path, compressedExtension))
	switch format := proof.Format(strings.TrimPrefix(ext, ".")); format {
	case proof.FormatJSON, proof.FormatCBOR:
		return format, true
	default:
		return "", false
	}
}

// ProofPath returns the path new proofs of the unit are written to.
func (c *Cache) ProofPath(id string) string {
	return filepath.Join(c.options.ProofDirectory, ProofFileName(id, c.options.Format, c.options.Compress))
}

// candidates returns every path a proof of the unit may have been persisted at, the configured one first.
func (c *Cache) candidates(id string) []string {
	paths := []string{c.ProofPath(id)}
	for _, format := range []proof.Format{proof.FormatJSON, proof.FormatCBOR} {
		for _, compress := range []bool{false, true} {
			path := filepath.Join(c.options.ProofDirectory, ProofFileName(id, format, compress))
			if !slices.Contains(paths, path) {
				paths = append(paths, path)
			}
		}
	}
	return paths
}

// locate returns the path of the persisted proof of a unit, if one exists.
func (c *Cache) locate(id string) (string, bool) {
	for _, path := range c.candidates(id) {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Exists reports whether a proof of the unit was persisted.
func (c *Cache) Exists(id string) bool {
	_, ok := c.locate(id)
	return ok
}

// ReadProofFile decodes the proof stored at path. Decoding failures are MalformedProofFileErrors naming the path.
func ReadProofFile(path string) (*proof.Proof, error) {
	format, ok := formatOf(path)
	if !ok {
		return nil, errors.Errorf("unrecognized proof file %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p, err := proof.Decode(data, format)
	if err != nil {
		var malformedErr *proof.MalformedProofFileError
		if errors.As(err, &malformedErr) {
			malformedErr.Path = path
		}
		return nil, err
	}
	return p, nil
}

// Load reads the persisted proof of a unit.
func (c *Cache) Load(id string) (*proof.Proof, error) {
	path, ok := c.locate(id)
	if !ok {
		return nil, errors.Errorf("no proof of %s was found in %s", id, c.options.ProofDirectory)
	}
	p, err := ReadProofFile(path)
	if err != nil {
		return nil, err
	}
	if p.ID != id {
		return nil, errors.WithStack(&proof.MalformedProofFileError{Path: path, Err: errors.Errorf("file holds proof %s", p.ID)})
	}
	return p, nil
}

// LoadOrInit returns the persisted proof of a unit when one exists, the unit's digest is up to date and
// reinitialization was not requested. Otherwise it builds a fresh proof from the unit's templates. setupFinal is
// handed to the front-end for tests whose contract has a setup proof.
func (c *Cache) LoadOrInit(unit units.Unit, setupFinal *kcfg.CTerm) (*proof.Proof, LoadResult, error) {
	status, err := c.ledger.Check(c.project, unit)
	if err != nil {
		return nil, "", err
	}
	exists := c.Exists(unit.ID())

	result := LoadFresh
	switch {
	case status.Mismatch != nil:
		c.logger.Warn(colors.Bold, unit.ID(), colors.Reset, ": forcing reinitialization: ", status.Mismatch)
		result = LoadStale
	case exists && !status.UpToDate:
		c.logger.Info("Proof of ", unit.ID(), " is out of date, reinitializing")
		result = LoadStale
	case exists && !c.options.Reinit:
		p, err := c.Load(unit.ID())
		if err != nil {
			return nil, "", err
		}
		return p, LoadReused, nil
	}

	p, err := c.initialize(unit, setupFinal)
	if err != nil {
		return nil, "", err
	}
	return p, result, nil
}

// initialize builds a fresh proof from the unit's templates.
func (c *Cache) initialize(unit units.Unit, setupFinal *kcfg.CTerm) (*proof.Proof, error) {
	init, target, err := c.frontEnd.Templates(unit, setupFinal)
	if err != nil {
		return nil, err
	}
	return proof.NewProof(unit.ID(), init, target, c.options.BMCDepth), nil
}

// Persist writes the proof to its file through a temporary file and a rename, then removes files of the same unit
// left behind in other formats.
func (c *Cache) Persist(p *proof.Proof) error {
	data, err := proof.Encode(p, c.options.Format, c.options.Compress)
	if err != nil {
		return err
	}
	path := c.ProofPath(p.ID)
	if err = utils.WriteFileAtomic(path, data); err != nil {
		return err
	}
	for _, other := range c.candidates(p.ID)[1:] {
		if err = os.Remove(other); err != nil && !os.IsNotExist(err) {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Record stores the unit's current digests in the ledger. It must only be called after the unit was explored
// without error.
func (c *Cache) Record(unit units.Unit) error {
	return c.ledger.RecordUnit(c.project, unit)
}

// Entry is a persisted proof found by List, or the error reading it.
type Entry struct {
	Path  string
	Proof *proof.Proof
	Err   error
}

// List reads every proof file in the proof directory, sorted by proof id. Files that fail to decode are returned
// with their error.
func List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || strings.HasPrefix(dirEntry.Name(), ".") {
			continue
		}
		if _, ok := formatOf(dirEntry.Name()); !ok {
			continue
		}
		path := filepath.Join(dir, dirEntry.Name())
		p, err := ReadProofFile(path)
		entries = append(entries, Entry{Path: path, Proof: p, Err: err})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(entryKey(a), entryKey(b))
	})
	return entries, nil
}

// entryKey orders entries by proof id, falling back to the path for unreadable files.
func entryKey(e Entry) string {
	if e.Proof != nil {
		return e.Proof.ID
	}
	return e.Path
}
