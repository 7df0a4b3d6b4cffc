package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes rafflectl with an empty network override and the given API
// URL so the host environment cannot leak in.
func run(t *testing.T, apiURL string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	base := []string{"--networks", "", "--rpc-url", "", "--raffle", "", "--admin-secret", "operator-secret"}
	if apiURL != "" {
		base = append(base, "--api-url", apiURL)
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3")
	require.NotNil(t, cmd)
	assert.Equal(t, "rafflectl", cmd.Use)
	assert.Equal(t, "1.2.3", cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	for _, name := range []string{"networks", "plan", "status", "upkeep", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	key := cmd.PersistentFlags().Lookup("private-key")
	require.NotNil(t, key)
	assert.Empty(t, key.DefValue, "the key must never be a visible default")
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "", "--format", "xml", "networks")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestNetworks_Golden(t *testing.T) {
	out, err := run(t, "", "networks")
	require.NoError(t, err)
	golden(t).Assert(t, "networks", []byte(out))
}

func TestNetworks_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`networks:
  - chainId: 1337
    name: localnet
    vrfCoordinatorV2: "0x0000000000000000000000000000000000000001"
    entranceFee: "0.05"
    gasLane: "0x787d74caea10b2b357790d5b5247c2f63d1d91572a9846f780606e4d953677ae"
    subscriptionId: "7"
    callbackGasLimit: 300000
    interval: "2m"
`), 0o600))

	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--networks", path, "networks"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1337       localnet   0.05       2m0s")
}

func TestPlan_Golden(t *testing.T) {
	for _, name := range []string{"hardhat", "sepolia"} {
		t.Run(name, func(t *testing.T) {
			out, err := run(t, "", "plan", name)
			require.NoError(t, err)
			golden(t).Assert(t, "plan_"+name, []byte(out))
		})
	}
}

func TestPlan_ByChainIDAndAlias(t *testing.T) {
	byID, err := run(t, "", "plan", "31337")
	require.NoError(t, err)
	alias, err := run(t, "", "plan", "localhost")
	require.NoError(t, err)
	assert.Equal(t, byID, alias)
}

func TestPlan_JSON(t *testing.T) {
	out, err := run(t, "", "--format", "json", "plan", "sepolia")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			DeployMocks   bool     `json:"deployMocks"`
			Confirmations uint64   `json:"confirmations"`
			ArgsHex       string   `json:"argsHex"`
			Steps         []string `json:"steps"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.Data.DeployMocks)
	assert.Equal(t, uint64(6), resp.Data.Confirmations)
	assert.Len(t, resp.Data.ArgsHex, 2+6*64)
	assert.Len(t, resp.Data.Steps, 3)
}

func TestPlan_UnknownNetwork(t *testing.T) {
	_, err := run(t, "", "plan", "mainnet-nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOutputFormatter_Error(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error("E001", "boom"))
	assert.JSONEq(t, `{"status":"error","error":{"code":"E001","message":"boom"}}`, buf.String())

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Error("E001", "boom"))
	assert.Equal(t, "Error [E001]: boom\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", assert.AnError)))
}

func TestUpkeep_ViaServer(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/raffle/upkeep", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"requestId":"4","state":"calculating"}`))
	}))
	defer ts.Close()

	out, err := run(t, ts.URL, "upkeep")
	require.NoError(t, err)
	assert.Equal(t, "Bearer operator-secret", gotAuth)
	assert.Equal(t, "Upkeep performed.\nRequest ID:  4\nState:       calculating\n", out)
}

func TestUpkeep_NotNeededIsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"upkeep_not_needed","message":"upkeep not needed"}`))
	}))
	defer ts.Close()

	_, err := run(t, ts.URL, "upkeep")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "upkeep not needed")
}

func TestUpkeep_OnChainRequiresKey(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	cmd := NewRootCommand("test")
	cmd.SetOut(&bytes.Buffer{})
	// ethclient dials http lazily, so the missing key is reported first.
	cmd.SetArgs([]string{"--rpc-url", "http://127.0.0.1:1", "--raffle", "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", "upkeep"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key is required")
}

func TestStatus_InvalidRaffleAddress(t *testing.T) {
	cmd := NewRootCommand("test")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--rpc-url", "http://127.0.0.1:1", "--raffle", "not-an-address", "status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid raffle address")
}
