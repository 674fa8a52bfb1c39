package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/starknet-sequencer/internal/api"
	"github.com/rechain/starknet-sequencer/internal/batcher"
	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/rechain/starknet-sequencer/internal/l1"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/rechain/starknet-sequencer/testutil"
)

// fakeConsensus is a minimal consensusStatus double, mirroring the
// narrow-interface test-double idiom used throughout internal/consensus's
// own tests.
type fakeConsensus struct{ height core.BlockNumber }

func (f fakeConsensus) CurrentHeight() core.BlockNumber { return f.height }

func newTestServer(t *testing.T) *api.Server {
	t.Helper()

	env := testutil.NewTestEnvironment(t)
	t.Cleanup(env.Close)
	store := env.WithSequencerStore()

	classes, err := classcache.New(8)
	require.NoError(t, err)
	classes.Put(&core.CompiledClass{
		ClassHash: "0xalice",
		Bytecode:  make([]uint64, 32),
		EntryPoints: map[string]execution.EntryPoint{
			"__execute__": {PC: 4, Builtins: []string{"range_check96", "pedersen"}},
		},
	})

	factory := builder.NewFactory(
		store, classes,
		func() execution.CairoRunner { return execution.NewFakeRunner(make([]uint64, 32)) },
		execution.DefaultVersionedConstants(),
		3,
		core.BouncerWeights{
			NSteps:        1_000_000,
			BuiltinCounts: map[string]uint64{"pedersen": 1_000_000, "range_check96": 1_000_000, "segment_arena": 1_000_000},
		},
	)

	pool := mempool.NewInMemoryPool()
	b := batcher.New(store, store, pool, l1.StaticClient{Hash: "0x0"}, factory, batcher.Config{StreamChunkSize: 3})

	return api.NewServer(b, fakeConsensus{height: 1}, store)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Status(t *testing.T) {
	srv := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(0), body["storage_height"])
	assert.Equal(t, float64(1), body["consensus_height"])
}

func TestServer_ValidateFlowThroughREST(t *testing.T) {
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/heights/1/start", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/proposals/validate", strings.NewReader(`{"height":1}`))
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var proposed map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&proposed))
	id := proposed["proposal_id"]

	rr = httptest.NewRecorder()
	body := `{"txs":[{"hash":"0xt1","sender":"0xalice"}]}`
	req = httptest.NewRequest(http.MethodPost, "/proposals/"+jsonNumber(id)+"/content", strings.NewReader(body))
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/proposals/"+jsonNumber(id)+"/content", strings.NewReader(`{"finish":true}`))
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "finished", status["status"])
}

func TestServer_StartHeightConflict(t *testing.T) {
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/heights/2/start", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func jsonNumber(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return "0"
	}
	return strconv.FormatUint(uint64(f), 10)
}
