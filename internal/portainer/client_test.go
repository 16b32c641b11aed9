package portainer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-memory Portainer lookalike covering the slices of
// the API the gateway uses.
type fakeEngine struct {
	mu         sync.Mutex
	authCalls  int
	validToken string
	apiKey     string
	stacks     []Stack
	nextStack  int
	containers []Container
	networks   []string
	execOutput []byte
	execExit   int
	lastStack  map[string]interface{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		validToken: "jwt-1",
		apiKey:     "api-key-1",
		nextStack:  100,
		execExit:   0,
	}
}

func (f *fakeEngine) authorized(r *http.Request) bool {
	if r.Header.Get("X-API-Key") == f.apiKey {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+f.validToken
}

func (f *fakeEngine) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path

		if path == "/api/auth" {
			f.authCalls++
			writeEngineJSON(w, map[string]string{"jwt": f.validToken})
			return
		}

		if path == "/api/websocket/exec" {
			okKey := r.Header.Get("X-API-Key") == f.apiKey
			okToken := r.URL.Query().Get("token") == f.validToken
			if !okKey && !okToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			output := f.execOutput
			f.mu.Unlock()
			conn, err := upgrader.Upgrade(w, r, nil)
			f.mu.Lock()
			require.NoError(t, err)
			_ = conn.WriteMessage(websocket.BinaryMessage, output)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}

		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"invalid credentials"}`)
			return
		}

		switch {
		case path == "/api/endpoints":
			writeEngineJSON(w, []Environment{{ID: 3, Name: "primary"}, {ID: 7, Name: "edge"}})

		case path == "/api/stacks" && r.Method == "GET":
			writeEngineJSON(w, f.stacks)

		case path == "/api/stacks/create/standalone/string" && r.Method == "POST":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.lastStack = body
			f.nextStack++
			stack := Stack{ID: f.nextStack, Name: body["name"].(string), EndpointID: 3, Status: 1}
			f.stacks = append(f.stacks, stack)
			writeEngineJSON(w, stack)

		case strings.HasPrefix(path, "/api/stacks/") && r.Method == "DELETE":
			writeEngineJSON(w, map[string]string{})

		case strings.HasSuffix(path, "/containers/json"):
			writeEngineJSON(w, f.containers)

		case strings.HasSuffix(path, "/networks") && r.Method == "GET":
			var nets []network
			for i, n := range f.networks {
				nets = append(nets, network{ID: fmt.Sprintf("n%d", i), Name: n})
			}
			writeEngineJSON(w, nets)

		case strings.HasSuffix(path, "/networks/create"):
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.networks = append(f.networks, body["Name"].(string))
			writeEngineJSON(w, map[string]string{"Id": "created"})

		case strings.HasSuffix(path, "/exec") && r.Method == "POST":
			writeEngineJSON(w, map[string]string{"Id": "exec-1"})

		case strings.HasPrefix(path, "/api/endpoints/") && strings.Contains(path, "/exec/") && strings.HasSuffix(path, "/json"):
			writeEngineJSON(w, map[string]interface{}{"ExitCode": f.execExit, "Running": false})

		case strings.Contains(path, "/containers/") && strings.HasSuffix(path, "/start"):
			writeEngineJSON(w, map[string]string{})

		case strings.Contains(path, "/containers/") && strings.HasSuffix(path, "/stop"):
			writeEngineJSON(w, map[string]string{})

		case strings.Contains(path, "/containers/") && r.Method == "DELETE":
			name := strings.TrimPrefix(path, "/api/endpoints/3/docker/containers/")
			for _, cont := range f.containers {
				if cont.ID == name || cont.Name() == name {
					writeEngineJSON(w, map[string]string{})
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"no such container"}`)

		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"message":"unhandled path %s"}`, path)
		}
	})
}

func writeEngineJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeEngine, useAPIKey bool) *Client {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL}
	if useAPIKey {
		cfg.APIKey = fake.apiKey
	} else {
		cfg.Username = "admin"
		cfg.Password = "secret"
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestListEnvironments(t *testing.T) {
	client := newTestClient(t, newFakeEngine(), true)

	envs, err := client.ListEnvironments(context.Background())
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, 3, envs[0].ID)
	assert.Equal(t, "primary", envs[0].Name)

	first, err := client.FirstEnvironmentID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first)
}

func TestSessionAuthReauthenticatesOn401(t *testing.T) {
	fake := newFakeEngine()
	client := newTestClient(t, fake, false)

	// First call authenticates lazily.
	_, err := client.ListEnvironments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.authCalls)

	// Invalidate the session; the next call must re-authenticate once.
	fake.mu.Lock()
	fake.validToken = "jwt-2"
	fake.mu.Unlock()

	_, err = client.ListEnvironments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.authCalls)
}

func TestCreateStackPayload(t *testing.T) {
	fake := newFakeEngine()
	client := newTestClient(t, fake, true)

	stack, err := client.CreateStack(context.Background(), "mc-abc", "version: \"3.8\"\n", []EnvPair{{Name: "A", Value: "1"}}, 3)
	require.NoError(t, err)
	assert.Equal(t, "mc-abc", stack.Name)
	assert.Equal(t, 101, stack.ID)

	assert.Equal(t, "mc-abc", fake.lastStack["name"])
	assert.Equal(t, "version: \"3.8\"\n", fake.lastStack["stackFileContent"])
	require.Len(t, fake.lastStack["env"], 1)
}

func TestGetStackByName(t *testing.T) {
	fake := newFakeEngine()
	fake.stacks = []Stack{{ID: 1, Name: "mc-proxy-main"}}
	client := newTestClient(t, fake, true)

	stack, err := client.GetStackByName(context.Background(), "mc-proxy-main")
	require.NoError(t, err)
	require.NotNil(t, stack)
	assert.Equal(t, 1, stack.ID)

	missing, err := client.GetStackByName(context.Background(), "mc-proxy-ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUsedContainerPorts(t *testing.T) {
	fake := newFakeEngine()
	fake.containers = []Container{
		{ID: "c1", Names: []string{"/mc-a"}, State: "running", Ports: []ContainerPort{
			{PrivatePort: 25565, PublicPort: 25566, Type: "tcp"},
			{PrivatePort: 25575, PublicPort: 35566, Type: "tcp"},
		}},
		{ID: "c2", Names: []string{"/mc-b"}, State: "exited", Ports: []ContainerPort{
			{PrivatePort: 25565, PublicPort: 25999, Type: "tcp"},
		}},
		{ID: "c3", Names: []string{"/mc-c"}, State: "running", Ports: []ContainerPort{
			{PrivatePort: 25565, PublicPort: 25566, Type: "tcp"}, // duplicate binding report
			{PrivatePort: 9999, Type: "tcp"},                     // unpublished
		}},
	}
	client := newTestClient(t, fake, true)

	ports, err := client.UsedContainerPorts(context.Background(), 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{25566, 35566}, ports)
}

func TestEnsureNetwork(t *testing.T) {
	fake := newFakeEngine()
	fake.networks = []string{"minecraft-net-old"}
	client := newTestClient(t, fake, true)

	// Substring match from the engine filter must not count as existing.
	require.NoError(t, client.EnsureNetwork(context.Background(), "minecraft-net", 3))
	assert.Contains(t, fake.networks, "minecraft-net")

	before := len(fake.networks)
	require.NoError(t, client.EnsureNetwork(context.Background(), "minecraft-net", 3))
	assert.Len(t, fake.networks, before, "existing network must not be recreated")
}

func TestRemoveContainerNotFound(t *testing.T) {
	fake := newFakeEngine()
	client := newTestClient(t, fake, true)

	err := client.RemoveContainer(context.Background(), "mc-ghost", 3, true)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestExec(t *testing.T) {
	fake := newFakeEngine()
	fake.containers = []Container{{ID: "c1", Names: []string{"/proxy-main"}, State: "running"}}
	fake.execOutput = muxFrame(1, "reload ok\n")
	fake.execOutput = append(fake.execOutput, muxFrame(2, "warn: slow plugin\n")...)
	fake.execExit = 0
	client := newTestClient(t, fake, true)

	result, err := client.Exec(context.Background(), "c1", []string{"rcon-cli", "velocity", "reload"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "reload ok\n", result.Stdout)
	assert.Equal(t, "warn: slow plugin\n", result.Stderr)
}

func TestExecSessionToken(t *testing.T) {
	fake := newFakeEngine()
	fake.execOutput = muxFrame(1, "done")
	client := newTestClient(t, fake, false)

	result, err := client.Exec(context.Background(), "c1", []string{"true"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Stdout)
}

func muxFrame(stream byte, payload string) []byte {
	frame := make([]byte, 8+len(payload))
	frame[0] = stream
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

func TestDemuxStream(t *testing.T) {
	data := muxFrame(1, "out1")
	data = append(data, muxFrame(2, "err1")...)
	data = append(data, muxFrame(1, "out2")...)

	stdout, stderr := demuxStream(data)
	assert.Equal(t, "out1out2", stdout)
	assert.Equal(t, "err1", stderr)

	// Raw tty bytes pass through as stdout.
	stdout, stderr = demuxStream([]byte("ok"))
	assert.Equal(t, "ok", stdout)
	assert.Empty(t, stderr)
}
