package openapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/testutil"
	"github.com/stratabase/strata/transport/openapi"
	"github.com/stretchr/testify/assert"
)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

func testConfig() openapi.Config {
	return openapi.Config{
		Title:       "strata",
		Version:     "v0.0.0",
		Description: "strata test server",
		Port:        6333,
	}
}

func serveGateway(ctx context.Context, t *testing.T, g *strata.Gateway, config openapi.Config) *httptest.Server {
	t.Helper()
	o, err := openapi.New(config)
	assert.NoError(t, err)
	o.RegisterRoutes(ctx, g)
	srv := httptest.NewServer(o.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	assert.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func errorMessage(t *testing.T, env envelope) string {
	t.Helper()
	var status struct {
		Error string `json:"error"`
	}
	assert.NoError(t, json.Unmarshal(env.Status, &status))
	return status.Error
}

func TestCollectionRoutes(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		config := testConfig()
		config.RequestValidation = true
		srv := serveGateway(ctx, t, g, config)

		status, env := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"},"shard_number":2}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, `"ok"`, string(env.Status))
		assert.Equal(t, "true", string(env.Result))
		assert.GreaterOrEqual(t, env.Time, float64(0))

		status, env = doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusConflict, status)
		assert.Contains(t, errorMessage(t, env), "exists")

		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/orders", "")
		assert.Equal(t, http.StatusOK, status)
		var info strata.CollectionInfo
		assert.NoError(t, json.Unmarshal(env.Result, &info))
		assert.Equal(t, strata.StatusGreen, info.Status)
		assert.EqualValues(t, 2, info.Config.Params.ShardNumber)
		assert.EqualValues(t, 4, info.Config.Params.Vectors.Size)

		status, _ = doRequest(t, http.MethodPatch, srv.URL+"/collections/orders", `{"params":{"replication_factor":3}}`)
		assert.Equal(t, http.StatusOK, status)
		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/orders", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &info))
		assert.EqualValues(t, 3, info.Config.Params.ReplicationFactor)

		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections", "")
		assert.Equal(t, http.StatusOK, status)
		var listing struct {
			Collections []strata.CollectionSummary `json:"collections"`
		}
		assert.NoError(t, json.Unmarshal(env.Result, &listing))
		assert.Equal(t, []strata.CollectionSummary{{Name: "orders"}}, listing.Collections)

		// malformed bodies never reach the gateway
		status, _ = doRequest(t, http.MethodPut, srv.URL+"/collections/bad", `{"vectors":{"size":0,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusBadRequest, status)
		status, _ = doRequest(t, http.MethodPut, srv.URL+"/collections/bad", `{"vectors":{"size":4,"distance":"Manhattan"}}`)
		assert.Equal(t, http.StatusBadRequest, status)
		status, _ = doRequest(t, http.MethodPut, srv.URL+"/collections/bad?timeout=abc", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusBadRequest, status)

		status, env = doRequest(t, http.MethodDelete, srv.URL+"/collections/orders", "")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "true", string(env.Result))
		status, _ = doRequest(t, http.MethodGet, srv.URL+"/collections/orders", "")
		assert.Equal(t, http.StatusNotFound, status)
	}))
}

func TestAliasRoutes(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		status, _ := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusOK, status)

		status, env := doRequest(t, http.MethodPost, srv.URL+"/collections/aliases", `{"actions":[{"create_alias":{"collection_name":"orders","alias_name":"latest"}}]}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "true", string(env.Result))

		var listing struct {
			Aliases []strata.AliasDescription `json:"aliases"`
		}
		status, env = doRequest(t, http.MethodGet, srv.URL+"/aliases", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &listing))
		assert.Equal(t, []strata.AliasDescription{{AliasName: "latest", CollectionName: "orders"}}, listing.Aliases)

		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/orders/aliases", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &listing))
		assert.Len(t, listing.Aliases, 1)

		// aliases resolve on reads
		status, _ = doRequest(t, http.MethodGet, srv.URL+"/collections/latest", "")
		assert.Equal(t, http.StatusOK, status)

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/aliases", `{"actions":[{"rename_alias":{"old_alias_name":"latest","new_alias_name":"current"}}]}`)
		assert.Equal(t, http.StatusOK, status)
		status, _ = doRequest(t, http.MethodGet, srv.URL+"/collections/current", "")
		assert.Equal(t, http.StatusOK, status)

		status, env = doRequest(t, http.MethodPost, srv.URL+"/collections/aliases", `{"actions":[{"delete_alias":{"alias_name":"latest"}}]}`)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Contains(t, errorMessage(t, env), "latest")

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/aliases", `{"actions":[{"create_alias":{"collection_name":"missing","alias_name":"x"}}]}`)
		assert.Equal(t, http.StatusNotFound, status)

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/aliases", `{"actions":[{}]}`)
		assert.Equal(t, http.StatusBadRequest, status)
	}))
}

func TestClusterRoutes(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		status, _ := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"},"shard_number":3}`)
		assert.Equal(t, http.StatusOK, status)

		var info strata.CollectionClusterInfo
		status, env := doRequest(t, http.MethodGet, srv.URL+"/collections/orders/cluster", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &info))
		assert.EqualValues(t, 1, info.PeerID)
		assert.Equal(t, 3, info.ShardCount)
		assert.Len(t, info.LocalShards, 3)
		assert.Empty(t, info.RemoteShards)

		status, env = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/cluster", `{"replicate_shard":{"shard_id":0,"from_peer_id":1,"to_peer_id":2}}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "true", string(env.Result))

		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/orders/cluster", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &info))
		assert.Len(t, info.ShardTransfers, 1)
		assert.Equal(t, []strata.RemoteShardInfo{{ShardID: 0, PeerID: 2, State: strata.ReplicaPartial}}, info.RemoteShards)

		// a shard can only be part of one transfer at a time
		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/cluster", `{"replicate_shard":{"shard_id":0,"from_peer_id":1,"to_peer_id":3}}`)
		assert.Equal(t, http.StatusConflict, status)

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/cluster", `{"abort_transfer":{"shard_id":0,"from_peer_id":1,"to_peer_id":2}}`)
		assert.Equal(t, http.StatusOK, status)
		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/orders/cluster", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &info))
		assert.Empty(t, info.ShardTransfers)
		assert.Empty(t, info.RemoteShards)

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/cluster", `{"move_shard":{"shard_id":9,"from_peer_id":1,"to_peer_id":2}}`)
		assert.Equal(t, http.StatusNotFound, status)
		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/cluster", `{"drop_replica":{"shard_id":0,"peer_id":9}}`)
		assert.Equal(t, http.StatusNotFound, status)
		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/cluster", `{}`)
		assert.Equal(t, http.StatusBadRequest, status)
		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/missing/cluster", `{"replicate_shard":{"shard_id":0,"from_peer_id":1,"to_peer_id":2}}`)
		assert.Equal(t, http.StatusNotFound, status)
	}))
}

func TestTimeoutQuery(t *testing.T) {
	assert.Nil(t, testutil.TestSlowGateway(300*time.Millisecond, func(ctx context.Context, g *strata.Gateway, slow *testutil.LatencyExecutor) {
		srv := serveGateway(ctx, t, g, testConfig())

		started := time.Now()
		status, env := doRequest(t, http.MethodPut, srv.URL+"/collections/orders?timeout=0", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusRequestTimeout, status)
		assert.Less(t, time.Since(started), 200*time.Millisecond)
		assert.Contains(t, errorMessage(t, env), "timed out")

		// abandoned, not cancelled - the work still lands
		assert.Eventually(t, func() bool {
			return slow.Completed() == 1
		}, 3*time.Second, 25*time.Millisecond)
		status, _ = doRequest(t, http.MethodGet, srv.URL+"/collections/orders", "")
		assert.Equal(t, http.StatusOK, status)
	}))
}

func TestSnapshotRoutes(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		status, _ := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"},"shard_number":2}`)
		assert.Equal(t, http.StatusOK, status)

		var description strata.SnapshotDescription
		status, env := doRequest(t, http.MethodPost, srv.URL+"/collections/orders/snapshots", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &description))
		assert.True(t, strings.HasPrefix(description.Name, "orders-"))
		assert.Greater(t, description.Size, int64(0))
		assert.Len(t, description.Checksum, 64)

		listCount := func() int {
			status, env := doRequest(t, http.MethodGet, srv.URL+"/collections/orders/snapshots", "")
			if status != http.StatusOK {
				return -1
			}
			var listed []strata.SnapshotDescription
			if err := json.Unmarshal(env.Result, &listed); err != nil {
				return -1
			}
			return len(listed)
		}
		assert.Equal(t, 1, listCount())

		resp, err := http.Get(srv.URL + "/collections/orders/snapshots/" + description.Name)
		assert.NoError(t, err)
		archive, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), description.Name)
		assert.EqualValues(t, description.Size, len(archive))

		// a non waiting download gets the accepted envelope, not a stream
		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/orders/snapshots/"+description.Name+"?wait=false", "")
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, `"accepted"`, string(env.Status))

		location := filepath.Join(g.Executor().SnapshotsRoot(), "orders", description.Name)
		status, env = doRequest(t, http.MethodPut, srv.URL+"/collections/restored/snapshots/recover", fmt.Sprintf(`{"location":%q,"priority":"snapshot"}`, location))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "true", string(env.Result))
		status, env = doRequest(t, http.MethodGet, srv.URL+"/collections/restored", "")
		assert.Equal(t, http.StatusOK, status)
		var info strata.CollectionInfo
		assert.NoError(t, json.Unmarshal(env.Result, &info))
		assert.EqualValues(t, 2, info.Config.Params.ShardNumber)

		status, _ = doRequest(t, http.MethodPut, srv.URL+"/collections/restored/snapshots/recover", `{"location":"relative/path.snapshot"}`)
		assert.Equal(t, http.StatusBadRequest, status)
		status, _ = doRequest(t, http.MethodPut, srv.URL+"/collections/restored/snapshots/recover", fmt.Sprintf(`{"location":%q}`, filepath.Join(g.Executor().SnapshotsRoot(), "orders", "missing.snapshot")))
		assert.Equal(t, http.StatusNotFound, status)

		status, env = doRequest(t, http.MethodDelete, srv.URL+"/collections/orders/snapshots/"+description.Name+"?wait=false", "")
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, `"accepted"`, string(env.Status))
		assert.Eventually(t, func() bool {
			return listCount() == 0
		}, 3*time.Second, 25*time.Millisecond)

		status, env = doRequest(t, http.MethodPost, srv.URL+"/collections/orders/snapshots?wait=false", "")
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, `"accepted"`, string(env.Status))
		assert.Eventually(t, func() bool {
			return listCount() == 1
		}, 3*time.Second, 25*time.Millisecond)

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/missing/snapshots", "")
		assert.Equal(t, http.StatusNotFound, status)
	}))
}

func TestSnapshotUploadRoute(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		status, _ := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusOK, status)
		var description strata.SnapshotDescription
		status, env := doRequest(t, http.MethodPost, srv.URL+"/collections/orders/snapshots", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &description))

		resp, err := http.Get(srv.URL + "/collections/orders/snapshots/" + description.Name)
		assert.NoError(t, err)
		archive, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err)

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("snapshot", description.Name)
		assert.NoError(t, err)
		_, err = part.Write(archive)
		assert.NoError(t, err)
		assert.NoError(t, writer.Close())

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/collections/uploaded/snapshots/upload?priority=snapshot", &buf)
		assert.NoError(t, err)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		uploadResp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		var uploadEnv envelope
		assert.NoError(t, json.NewDecoder(uploadResp.Body).Decode(&uploadEnv))
		uploadResp.Body.Close()
		assert.Equal(t, http.StatusOK, uploadResp.StatusCode)
		assert.Equal(t, "true", string(uploadEnv.Result))

		status, _ = doRequest(t, http.MethodGet, srv.URL+"/collections/uploaded", "")
		assert.Equal(t, http.StatusOK, status)

		// a missing form file is a bad request
		req, err = http.NewRequest(http.MethodPost, srv.URL+"/collections/uploaded/snapshots/upload", strings.NewReader("not multipart"))
		assert.NoError(t, err)
		req.Header.Set("Content-Type", "multipart/form-data; boundary=xxx")
		badResp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		badResp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)

		status, _ = doRequest(t, http.MethodPost, srv.URL+"/collections/uploaded/snapshots/upload?priority=bogus", "")
		assert.Equal(t, http.StatusBadRequest, status)
	}))
}

func TestFullSnapshotRoutes(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		status, _ := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusOK, status)

		var description strata.SnapshotDescription
		status, env := doRequest(t, http.MethodPost, srv.URL+"/snapshots", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &description))
		assert.True(t, strings.HasPrefix(description.Name, "full-snapshot-"))

		var listed []strata.SnapshotDescription
		status, env = doRequest(t, http.MethodGet, srv.URL+"/snapshots", "")
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, json.Unmarshal(env.Result, &listed))
		assert.Len(t, listed, 1)

		resp, err := http.Get(srv.URL + "/snapshots/" + description.Name)
		assert.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, description.Size, len(body))

		status, env = doRequest(t, http.MethodDelete, srv.URL+"/snapshots/"+description.Name, "")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "true", string(env.Result))
		status, env = doRequest(t, http.MethodGet, srv.URL+"/snapshots", "")
		assert.Equal(t, http.StatusOK, status)
		listed = nil
		assert.NoError(t, json.Unmarshal(env.Result, &listed))
		assert.Empty(t, listed)

		status, env = doRequest(t, http.MethodPost, srv.URL+"/snapshots?wait=false", "")
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, `"accepted"`, string(env.Status))
		assert.Eventually(t, func() bool {
			status, env := doRequest(t, http.MethodGet, srv.URL+"/snapshots", "")
			if status != http.StatusOK {
				return false
			}
			var polled []strata.SnapshotDescription
			if err := json.Unmarshal(env.Result, &polled); err != nil {
				return false
			}
			return len(polled) == 1
		}, 3*time.Second, 25*time.Millisecond)
	}))
}

func TestSpecEndpoints(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		resp, err := http.Get(srv.URL + "/healthz")
		assert.NoError(t, err)
		var health map[string]any
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "strata", health["title"])

		resp, err = http.Get(srv.URL + "/openapi.yaml")
		assert.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "openapi: 3.0.3")
		assert.Contains(t, string(body), "/collections/{collection}")

		resp, err = http.Get(srv.URL + "/openapi.json")
		assert.NoError(t, err)
		var doc map[string]any
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, doc, "paths")

		resp, err = http.Get(srv.URL + "/api/sdk?pkg=gatewayclient")
		assert.NoError(t, err)
		sdk, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(sdk), "package gatewayclient")
	}))
}

func TestEventsStream(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		srv := serveGateway(ctx, t, g, testConfig())

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
		assert.NoError(t, err)
		defer conn.Close()
		time.Sleep(100 * time.Millisecond)

		status, _ := doRequest(t, http.MethodPut, srv.URL+"/collections/orders", `{"vectors":{"size":4,"distance":"Cosine"}}`)
		assert.Equal(t, http.StatusOK, status)

		assert.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var event strata.Event
		assert.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "create_collection", event.Kind)
		assert.Equal(t, "orders", event.Collection)
		assert.NotEmpty(t, event.ID)
	}))
}

func TestRateLimit(t *testing.T) {
	assert.Nil(t, testutil.TestGateway(func(ctx context.Context, g *strata.Gateway) {
		config := testConfig()
		config.RateLimit = 1
		srv := serveGateway(ctx, t, g, config)

		resp, err := http.Get(srv.URL + "/healthz")
		assert.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		status, env := doRequest(t, http.MethodGet, srv.URL+"/healthz", "")
		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.Contains(t, errorMessage(t, env), "rate limit")
	}))
}
