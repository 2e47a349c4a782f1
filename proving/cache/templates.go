package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
)

// Template is the init and target state pair the contract front-end produces for a unit.
type Template struct {
	// Init is the state exploration starts from.
	Init kcfg.CTerm `json:"init"`
	// Target is the goal every branch must reach.
	Target kcfg.CTerm `json:"target"`
	// InitFromSetup makes a test start from the final state of its contract's setup proof.
	InitFromSetup bool `json:"initFromSetup,omitempty"`
}

// FrontEnd supplies the templates proofs are initialized from.
type FrontEnd interface {
	// Templates returns the init and target states of a unit. setupFinal is the final state of the unit's setup
	// proof, or nil when the unit has no setup.
	Templates(unit units.Unit, setupFinal *kcfg.CTerm) (init kcfg.CTerm, target kcfg.CTerm, err error)
}

// FileFrontEnd reads templates written by an external front-end from <dir>/<unit id>.json.
type FileFrontEnd struct {
	dir string
}

// NewFileFrontEnd creates a FileFrontEnd over the given template directory.
func NewFileFrontEnd(dir string) *FileFrontEnd {
	return &FileFrontEnd{dir: dir}
}

// TemplatePath returns the path of a unit's template inside dir.
func TemplatePath(dir string, unit units.Unit) string {
	return filepath.Join(dir, unit.ID()+".json")
}

// Templates implements FrontEnd. When the template asks for it and a setup state is given, the init configuration
// is replaced by the setup state's configuration and the template's init constraints are appended to the setup
// constraints.
func (f *FileFrontEnd) Templates(unit units.Unit, setupFinal *kcfg.CTerm) (kcfg.CTerm, kcfg.CTerm, error) {
	path := TemplatePath(f.dir, unit)
	data, err := os.ReadFile(path)
	if err != nil {
		return kcfg.CTerm{}, kcfg.CTerm{}, errors.Wrapf(err, "no template for unit %s", unit.ID())
	}
	var template Template
	if err = json.Unmarshal(data, &template); err != nil {
		return kcfg.CTerm{}, kcfg.CTerm{}, errors.Wrapf(err, "unable to parse template %s", path)
	}
	if len(template.Init.Config) == 0 || len(template.Target.Config) == 0 {
		return kcfg.CTerm{}, kcfg.CTerm{}, errors.Errorf("template %s must define init and target configurations", path)
	}

	init := template.Init
	if template.InitFromSetup && setupFinal != nil {
		init = kcfg.CTerm{Config: setupFinal.Config, Constraints: setupFinal.Constraints}
		for _, constraint := range template.Init.Constraints {
			init = init.AddConstraint(constraint)
		}
	}
	return init, template.Target, nil
}

// WriteTemplate writes a unit's template into dir.
func WriteTemplate(dir string, unit units.Unit, template Template) error {
	data, err := json.MarshalIndent(template, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}
	return utils.WriteFileAtomic(TemplatePath(dir, unit), data)
}

// FinalState returns the state a passed proof ends in: the source of the lowest numbered cover into the target. It
// returns false when no branch reached the target.
func FinalState(p *proof.Proof) (kcfg.CTerm, bool) {
	for _, cover := range p.KCFG.Covers() {
		if cover.Dst != p.Target() {
			continue
		}
		node, err := p.KCFG.Node(cover.Src)
		if err != nil {
			continue
		}
		return node.CTerm, true
	}
	return kcfg.CTerm{}, false
}
