package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuits"
	"github.com/ldsec/poseidon/node"
	"github.com/ldsec/poseidon/rebalance"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/stretchr/testify/require"
)

var testProgram = poseidon.Pubkey{0xaa}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCircuits(t *testing.T) {
	out, err := execute(t, "circuits", "--format", "json")
	require.NoError(t, err)

	var infos []CircuitInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, len(circuits.Library))
	for _, info := range infos {
		entry, has := circuits.Library[info.Name]
		require.True(t, has)
		require.Equal(t, info.Name.ID(), info.ID)
		require.Equal(t, entry.Inputs, info.Inputs)
		require.Equal(t, entry.Event, info.Event)
	}
}

func TestKeygen(t *testing.T) {
	for _, kind := range []string{"signing", "x25519"} {
		t.Run(kind, func(t *testing.T) {
			out, err := execute(t, "keygen", kind, "--format", "json")
			require.NoError(t, err)
			var kp KeyPair
			require.NoError(t, json.Unmarshal([]byte(out), &kp))
			_, err = poseidon.PubkeyFromString(kp.Public)
			require.NoError(t, err)
			require.NotEmpty(t, kp.Private)
		})
	}

	t.Run("InvalidKind", func(t *testing.T) {
		_, err := execute(t, "keygen", "rsa")
		require.Error(t, err)
	})
}

func TestDerive(t *testing.T) {
	t.Run("Computation", func(t *testing.T) {
		out, err := execute(t, "derive", "computation", string(circuits.DepositName), "--program", testProgram.String(), "--offset", "7", "--format", "json")
		require.NoError(t, err)
		var accs compute.QueueAccounts
		require.NoError(t, json.Unmarshal([]byte(out), &accs))
		require.Equal(t, compute.ExpectedAccounts(testProgram, circuits.DepositName.ID(), 7), accs)
	})

	t.Run("Rebalance", func(t *testing.T) {
		owner, position := poseidon.Pubkey{0x11}, poseidon.Pubkey{0x22}
		out, err := execute(t, "derive", "rebalance", "per-position", "--program", testProgram.String(), "--owner", owner.String(), "--position", position.String())
		require.NoError(t, err)
		store, err := rebalance.NewStore("", nil, testProgram, rebalance.PerPosition, nil)
		require.NoError(t, err)
		require.Equal(t, store.Address(owner, position).String(), strings.TrimSpace(out))
	})

	t.Run("MissingProgram", func(t *testing.T) {
		_, err := execute(t, "derive", "computation", string(circuits.DepositName))
		require.Error(t, err)
	})

	t.Run("InvalidArity", func(t *testing.T) {
		_, err := execute(t, "derive", "rebalance", "per-pool", "--program", testProgram.String(), "--owner", testProgram.String())
		require.Error(t, err)
	})
}

func TestInit(t *testing.T) {
	for _, file := range []string{"node.json", "node.yaml"} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), file)
			_, err := execute(t, "init", path, "--id", "node-1")
			require.NoError(t, err)

			config, err := node.LoadConfigFromFile(path)
			require.NoError(t, err)
			require.Equal(t, poseidon.NodeID("node-1"), config.ID)
			require.True(t, config.ComputeConfig.RegisterOnStart)

			n, err := node.New(config)
			require.NoError(t, err)
			defer n.Close()
			defs, err := n.Compute().Definitions()
			require.NoError(t, err)
			require.Len(t, defs, len(circuits.Library))
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "circuits", "--format", "xml")
	require.Error(t, err)
}
