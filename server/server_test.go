package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lacchain/lac1resolver/identity"
	"github.com/lacchain/lac1resolver/lac1"
	"github.com/lacchain/lac1resolver/registry"
	"github.com/lacchain/lac1resolver/registry/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testRegistry = common.HexToAddress("0x43Ab9C1c4B1A5cC0d4b4dE12fA4De12F5aE5C3b9")
	testIdentity = common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
)

func newTestServer(t *testing.T, password string) (*Server, *registrytest.Backend) {
	t.Helper()

	b := registrytest.NewBackend(testRegistry)
	s, err := New(&Args{
		Addr:          ":0",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version:       "test",
		Networks:      identity.Networks{{Name: "test", ChainID: "0x9e55c", RPCURL: "memory://test"}},
		CacheTTL:      time.Minute,
		AdminPassword: password,
		Dial: func(ctx context.Context, n identity.Network) (registry.Backend, error) {
			return b, nil
		},
	})
	require.NoError(t, err)

	return s, b
}

func testDid(t *testing.T, chainID string) string {
	t.Helper()
	did, err := lac1.Encode(lac1.TypeCode, chainID, testIdentity, testRegistry, 1)
	require.NoError(t, err)
	return did
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	return do(s, httptest.NewRequest(http.MethodGet, target, nil))
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestNewValidatesArgs(t *testing.T) {
	_, err := New(&Args{Networks: identity.Networks{{ChainID: "1", RPCURL: "http://x"}}})
	assert.Error(t, err)

	_, err = New(&Args{Addr: ":0"})
	assert.Error(t, err)

	_, err = New(&Args{Addr: ":0", Networks: identity.Networks{{ChainID: "1", RPCURL: "http://x"}}, Cache: "redis"})
	assert.Error(t, err)

	_, err = New(&Args{Addr: ":0", Networks: identity.Networks{{ChainID: "1", RPCURL: "http://x"}}, Mode: "compact"})
	assert.Error(t, err)
}

func TestHandleResolve(t *testing.T) {
	s, b := newTestServer(t, "")
	did := testDid(t, "0x9e55c")
	b.SetAKA(5, testIdentity, "did:web:example.com", time.Now().Add(time.Hour).Unix())

	rec := get(s, "/1.0/identifiers/"+did)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DidDocContentType, rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, did, doc["id"])
	assert.Equal(t, []any{"did:web:example.com"}, doc["alsoKnownAs"])

	auth := doc["authentication"].([]any)
	require.Len(t, auth, 1)
	assert.IsType(t, map[string]any{}, auth[0])

	rec = get(s, "/1.0/identifiers/"+did+"?mode=explicit")
	require.Equal(t, http.StatusOK, rec.Code)
	doc = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, []any{did + "#controller"}, doc["authentication"])

	// escaped colons are accepted too
	rec = get(s, "/1.0/identifiers/"+strings.ReplaceAll(did, ":", "%3A"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleResolveErrors(t *testing.T) {
	s, b := newTestServer(t, "")

	unsupported, err := lac1.Encode(0x0002, "0x9e55c", testIdentity, testRegistry, 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		code   int
		err    string
	}{
		{"bad mode", "/1.0/identifiers/" + testDid(t, "0x9e55c") + "?mode=verbose", 400, "InvalidMode"},
		{"not lac1", "/1.0/identifiers/did:web:example.com", 400, "invalidDid"},
		{"bad checksum", "/1.0/identifiers/did:lac1:1111111111111111111111111111111111111111111111111111111111111", 400, "invalidDid"},
		{"unsupported type", "/1.0/identifiers/" + unsupported, 400, "unsupportedDidType"},
		{"unknown network", "/1.0/identifiers/" + testDid(t, "0x1"), 404, "networkNotConfigured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(s, tt.target)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.err, errorOf(t, rec))
		})
	}

	b.SetAKA(5, testIdentity, "did:web:example.com", 0)
	b.FailFilter = errors.New("connection refused")
	rec := get(s, "/1.0/identifiers/"+testDid(t, "0x9e55c"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleEncodeDecode(t *testing.T) {
	s, _ := newTestServer(t, "")

	q := url.Values{}
	q.Set("address", testIdentity.Hex())
	q.Set("registry", testRegistry.Hex())
	q.Set("chainId", "0x9e55c")
	q.Set("version", "1")

	rec := get(s, "/1.0/encode?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code)

	var enc ComLac1EncodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enc))
	assert.Equal(t, testDid(t, "0x9e55c"), enc.Did)

	rec = get(s, "/1.0/decode?did="+url.QueryEscape(enc.Did))
	require.Equal(t, http.StatusOK, rec.Code)

	var id lac1.Identifier
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	assert.Equal(t, lac1.Identifier{
		Version:  1,
		Type:     lac1.TypeCode,
		Address:  testIdentity,
		Registry: testRegistry,
		ChainID:  "0x9e55c",
	}, id)

	q.Set("address", "0x1234")
	rec = get(s, "/1.0/encode?"+q.Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidAddress", errorOf(t, rec))

	q.Set("address", testIdentity.Hex())
	q.Set("chainId", "lacchain")
	rec = get(s, "/1.0/encode?"+q.Encode())
	assert.Equal(t, "InvalidChainID", errorOf(t, rec))

	rec = get(s, "/1.0/decode?did=did:lac1:abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalidDid", errorOf(t, rec))
}

func TestHandleAdminBustCache(t *testing.T) {
	s, b := newTestServer(t, "hunter2")
	did := testDid(t, "0x9e55c")
	b.SetAKA(5, testIdentity, "did:web:example.com", time.Now().Add(time.Hour).Unix())

	require.Equal(t, http.StatusOK, get(s, "/1.0/identifiers/"+did).Code)
	require.Equal(t, http.StatusOK, get(s, "/1.0/identifiers/"+did).Code)
	assert.Equal(t, 1, b.FilterCalls())

	bust := func(user, pass string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/cache/bust?did="+url.QueryEscape(did), nil)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		return do(s, req)
	}

	assert.Equal(t, http.StatusUnauthorized, bust("", "").Code)
	assert.Equal(t, http.StatusUnauthorized, bust("admin", "wrong").Code)
	require.Equal(t, http.StatusOK, bust("admin", "hunter2").Code)

	require.Equal(t, http.StatusOK, get(s, "/1.0/identifiers/"+did).Code)
	assert.Equal(t, 2, b.FilterCalls())

	// no-cache skips the cached copy
	req := httptest.NewRequest(http.MethodGet, "/1.0/identifiers/"+did, nil)
	req.Header.Set("Cache-Control", "no-cache")
	require.Equal(t, http.StatusOK, do(s, req).Code)
	assert.Equal(t, 3, b.FilterCalls())
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	s, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/bust?did=x", nil)
	req.SetBasicAuth("admin", "")
	assert.Equal(t, http.StatusNotFound, do(s, req).Code)
}

func TestHandleHealthAndRobots(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := get(s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "lac1d test", body["version"])
	assert.Equal(t, "reference", body["mode"])

	rec = get(s, "/robots.txt")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "User-agent")

	assert.Equal(t, http.StatusOK, get(s, "/").Code)
}

func TestHandleResolveClientGone(t *testing.T) {
	s, b := newTestServer(t, "")
	b.SetAKA(5, testIdentity, "did:web:example.com", time.Now().Add(time.Hour).Unix())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/1.0/identifiers/"+testDid(t, "0x9e55c"), nil).WithContext(ctx)
	rec := do(s, req)
	assert.NotEqual(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())
}
