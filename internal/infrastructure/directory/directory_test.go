package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGenesis_YAML(t *testing.T) {
	path := writeFile(t, "genesis.yaml", `
chain_name: testnet
initial_block: 12
institutions:
  - id: uni-1
    name: First University
    administrator: admin-1
  - id: uni-2
    administrator: admin-2
`)

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", g.ChainName)
	assert.Equal(t, shared.BlockNumber(12), g.InitialBlock)
	require.Len(t, g.Institutions, 2)
	assert.Equal(t, shared.AccountID("admin-1"), g.Institutions[0].Administrator)
}

func TestLoadGenesis_TOML(t *testing.T) {
	path := writeFile(t, "genesis.toml", `
initial_block = 3

[[institutions]]
id = "uni-1"
name = "First University"
administrator = "admin-1"
`)

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, "credential-ledger", g.ChainName, "unset keys keep defaults")
	assert.Equal(t, shared.BlockNumber(3), g.InitialBlock)
	require.Len(t, g.Institutions, 1)
	assert.Equal(t, shared.InstitutionID("uni-1"), g.Institutions[0].ID)
}

func TestLoadGenesis_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "genesis.json", `{}`},
		{"unknown toml key", "genesis.toml", "initial_blok = 3\n"},
		{"bad yaml", "genesis.yaml", "institutions: [\n"},
		{"missing administrator", "genesis.yaml", "institutions:\n  - id: uni-1\n"},
		{"duplicate institution", "genesis.yaml", "institutions:\n  - {id: u, administrator: a}\n  - {id: u, administrator: b}\n"},
		{"invalid institution id", "genesis.yaml", "institutions:\n  - {id: 'has space', administrator: a}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGenesis(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrInvalidGenesis)
		})
	}
}

func TestStatic_AdministratorOf(t *testing.T) {
	d := FromGenesis(Genesis{Institutions: []InstitutionEntry{
		{ID: "uni-2", Administrator: "admin-2"},
		{ID: "uni-1", Name: "First", Administrator: "admin-1"},
	}})

	admin, ok := d.AdministratorOf(context.Background(), "uni-1")
	assert.True(t, ok)
	assert.Equal(t, shared.AccountID("admin-1"), admin)

	_, ok = d.AdministratorOf(context.Background(), "uni-3")
	assert.False(t, ok)

	list := d.Institutions()
	require.Len(t, list, 2)
	assert.Equal(t, shared.InstitutionID("uni-1"), list[0].ID)
	assert.Equal(t, "First", list[0].Name)
}
