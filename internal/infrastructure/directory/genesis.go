// Package directory provides a static institution directory seeded from a
// genesis file. The institution registry proper is owned by another module;
// this is the read-only view the intake engine needs.
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// InstitutionEntry is one institution in the genesis file.
type InstitutionEntry struct {
	ID            shared.InstitutionID `yaml:"id" toml:"id"`
	Name          string               `yaml:"name" toml:"name"`
	Administrator shared.AccountID     `yaml:"administrator" toml:"administrator"`
}

// Genesis is the initial ledger state.
type Genesis struct {
	ChainName    string             `yaml:"chain_name" toml:"chain_name"`
	InitialBlock shared.BlockNumber `yaml:"initial_block" toml:"initial_block"`
	Institutions []InstitutionEntry `yaml:"institutions" toml:"institutions"`
}

// DefaultGenesis returns an empty genesis starting at block 0.
func DefaultGenesis() Genesis {
	return Genesis{ChainName: "credential-ledger"}
}

// Validate checks institution identifiers are well-formed and unique and
// every institution has an administrator.
func (g Genesis) Validate() error {
	seen := make(map[shared.InstitutionID]struct{}, len(g.Institutions))
	for i, inst := range g.Institutions {
		if !inst.ID.IsValid() {
			return shared.WrapError("directory", "Validate", shared.ErrInvalidGenesis,
				fmt.Sprintf("institutions[%d]: invalid id %q", i, inst.ID), nil)
		}
		if inst.Administrator.IsEmpty() {
			return shared.WrapError("directory", "Validate", shared.ErrInvalidGenesis,
				fmt.Sprintf("institutions[%d]: %s has no administrator", i, inst.ID), nil)
		}
		if _, dup := seen[inst.ID]; dup {
			return shared.WrapError("directory", "Validate", shared.ErrInvalidGenesis,
				fmt.Sprintf("institutions[%d]: duplicate id %s", i, inst.ID), nil)
		}
		seen[inst.ID] = struct{}{}
	}
	return nil
}

// LoadGenesis reads a genesis file. The format is chosen by extension:
// .yaml/.yml or .toml.
func LoadGenesis(path string) (Genesis, error) {
	var (
		g   Genesis
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		g, err = loadYAML(path)
	case ".toml":
		g, err = loadTOML(path)
	default:
		return Genesis{}, shared.WrapError("directory", "LoadGenesis", shared.ErrInvalidGenesis,
			fmt.Sprintf("unsupported genesis format %q", filepath.Ext(path)), nil)
	}
	if err != nil {
		return Genesis{}, err
	}
	if err := g.Validate(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

func loadYAML(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("load genesis: %w", err)
	}

	g := DefaultGenesis()
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Genesis{}, shared.WrapError("directory", "LoadGenesis", shared.ErrInvalidGenesis, "parse yaml", err)
	}
	return g, nil
}

func loadTOML(path string) (Genesis, error) {
	var raw Genesis
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Genesis{}, shared.WrapError("directory", "LoadGenesis", shared.ErrInvalidGenesis, "parse toml", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Genesis{}, shared.WrapError("directory", "LoadGenesis", shared.ErrInvalidGenesis,
			fmt.Sprintf("unknown key %q", undecoded[0].String()), nil)
	}

	g := DefaultGenesis()
	if meta.IsDefined("chain_name") {
		g.ChainName = strings.TrimSpace(raw.ChainName)
	}
	if meta.IsDefined("initial_block") {
		g.InitialBlock = raw.InitialBlock
	}
	if meta.IsDefined("institutions") {
		g.Institutions = raw.Institutions
	}
	return g, nil
}
