package bootstrap

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facecam-server/internal/domain/face/cascade"
	"facecam-server/internal/domain/journal"
	platformconfig "facecam-server/internal/platform/config"
	platformerrors "facecam-server/internal/platform/errors"
	platformtesting "facecam-server/internal/platform/testing"
	"facecam-server/internal/transport/ws"
	"facecam-server/internal/utils"
)

func initState(t *testing.T, mutate func(*appState)) *appState {
	t.Helper()
	cfg := platformtesting.SetupTestConfig(t)
	state := &appState{configPath: platformtesting.WriteConfig(t, cfg)}
	if mutate != nil {
		mutate(state)
	}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.release)
	require.NoError(t, err)
	return state
}

func TestInitGraphOrder(t *testing.T) {
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"eventbus:init",
		"storage:init-database",
		"journal:init-store",
		"vision:init-pipeline",
		"capture:init-loop",
		"transport:init-websocket",
	}
	steps := InitGraph()
	require.Len(t, steps, len(want))
	for i, step := range steps {
		assert.Equal(t, want[i], step.ID)
	}
}

func TestInitGraphDependenciesPrecedeSteps(t *testing.T) {
	seen := map[string]bool{}
	for _, step := range InitGraph() {
		for _, dep := range step.DependsOn {
			assert.True(t, seen[dep], "%s depends on %s declared later", step.ID, dep)
		}
		seen[step.ID] = true
	}
}

func TestExecuteInitGraph(t *testing.T) {
	state := initState(t, nil)

	assert.NotNil(t, state.config)
	assert.NotNil(t, state.logger)
	assert.NotNil(t, state.observabilityShutdown)
	assert.NotNil(t, state.bus)
	assert.NotNil(t, state.journal)
	assert.NotNil(t, state.pipeline)
	assert.NotNil(t, state.wsRouter)
	assert.Nil(t, state.db, "memory journal needs no database")
	assert.Nil(t, state.captureLoop, "camera disabled")
}

func TestExecuteInitStepsMissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))
}

func TestExecuteInitStepsWrapsPlainErrors(t *testing.T) {
	steps := []initStep{{
		ID:      "a",
		Kind:    platformerrors.KindStorage,
		Execute: func(context.Context, *appState) error { return fmt.Errorf("disk full") },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindStorage))
	assert.Contains(t, err.Error(), "disk full")
}

func TestMissingConfigFileFails(t *testing.T) {
	state := &appState{configPath: filepath.Join(t.TempDir(), "absent.yaml")}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.release)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestSQLiteJournal(t *testing.T) {
	cfg := platformtesting.SetupTestConfig(t)
	cfg.Journal.Driver = journal.DriverSQLite
	state := &appState{configPath: platformtesting.WriteConfig(t, cfg)}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.release)
	require.NoError(t, err)

	assert.NotNil(t, state.db)
	_, statErr := os.Stat(cfg.Journal.SQLite.Path)
	assert.NoError(t, statErr)
}

func TestCascadeWithoutModelFails(t *testing.T) {
	cfg := platformtesting.SetupTestConfig(t)
	cfg.Vision.Detector = DetectorCascade
	cfg.Vision.Cascade.Path = filepath.Join(t.TempDir(), "missing.xml")
	state := &appState{configPath: platformtesting.WriteConfig(t, cfg)}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.release)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindVision))
}

func TestShippedConfigInitialises(t *testing.T) {
	root := filepath.Join("..", "..")
	result, err := platformconfig.NewLoader().WithDotEnv(false).WithPath(filepath.Join(root, "config.yaml")).Load()
	require.NoError(t, err)
	cfg := result.Config
	assert.Equal(t, DetectorCascade, cfg.Vision.Detector)

	if resolved, err := cascade.ResolvePath(cfg.Vision.Cascade.Path); err != nil {
		// OpenCV without its data files: the detector is the only thing that cannot start
		t.Logf("no installed cascade, using %s detector: %v", DetectorNone, err)
		cfg.Vision.Detector = DetectorNone
	} else {
		assert.FileExists(t, resolved)
	}

	tmp := t.TempDir()
	cfg.Server.Port = platformtesting.FreePort(t)
	cfg.Log.Dir = filepath.Join(tmp, "logs")
	cfg.Web.StaticDir = filepath.Join(root, "web")
	cfg.Journal.SQLite.Path = filepath.Join(tmp, "facecam.db")

	state := &appState{configPath: platformtesting.WriteConfig(t, cfg)}
	err = executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.release)
	require.NoError(t, err)

	router, err := buildHTTPRouter(state)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPRoutesAreWired(t *testing.T) {
	state := initState(t, nil)
	router, err := buildHTTPRouter(state)
	require.NoError(t, err)
	srv := httptest.NewServer(router.Engine)
	t.Cleanup(srv.Close)

	for path, want := range map[string]int{
		"/":            http.StatusOK,
		"/favicon.ico": http.StatusOK,
		"/video_feed":  http.StatusServiceUnavailable,
		"/api/health":  http.StatusOK,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}

	body := fmt.Sprintf(`{"image":%q}`, platformtesting.JPEGDataURL(t, 320, 240, color.Gray{Y: 128}))
	resp, err := http.Post(srv.URL+"/api/process", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/process", "application/json", strings.NewReader(`{"image":"data:image/jpg;base64,@@@"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/openapi.json")
	require.NoError(t, err)
	doc, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	for _, route := range []string{`"/process"`, `"/health"`, `"/detections"`, `"basePath": "/api"`} {
		assert.Contains(t, string(doc), route)
	}

	resp, err = http.Get(srv.URL + "/docs")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "/openapi.json")

	for _, path := range []string{"/ws", "/socket"} {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
		require.NoError(t, err, path)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := ws.DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, ws.EventMyResponse, env.Event)
		conn.Close()
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := platformtesting.SetupTestConfig(t)
	path := platformtesting.WriteConfig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{ConfigPath: path}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	tmp := t.TempDir()
	logCfg := &utils.LogCfg{
		LogLevel: "info",
		LogDir:   tmp,
		LogFile:  "graph.log",
	}
	logger, err := utils.NewLogger(logCfg)
	require.NoError(t, err)
	logBootstrapGraph(InitGraph(), logger)
	logger.Close()

	data, err := os.ReadFile(filepath.Join(tmp, logCfg.LogFile))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "initialisation graph")
	for _, step := range InitGraph() {
		assert.Contains(t, content, step.ID)
	}
}
