package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	platformerrors "facecam-server/internal/platform/errors"
	httptransport "facecam-server/internal/transport/http"
)

type stubProcessor struct {
	err    error
	origin face.Origin
}

func (s *stubProcessor) Process(ctx context.Context, payload string) (*face.Result, error) {
	s.origin = face.OriginFrom(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return &face.Result{
		Payload: "data:image/jpg;base64,OUT",
		Regions: []face.Region{{Top: 1, Right: 5, Bottom: 6, Left: 2}},
		Width:   1280,
		Height:  720,
		Elapsed: 12 * time.Millisecond,
	}, nil
}

func newEngine(t *testing.T, p Processor, limit int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := NewService(p, limit, nil)
	require.NoError(t, err)
	engine := gin.New()
	require.NoError(t, svc.Register(context.Background(), engine.Group("/api")))
	return engine
}

func post(engine *gin.Engine, body string) (*httptest.ResponseRecorder, httptransport.APIResponse) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	var resp httptransport.APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestNewServiceRequiresProcessor(t *testing.T) {
	_, err := NewService(nil, 0, nil)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestProcessSuccess(t *testing.T) {
	p := &stubProcessor{}
	rec, resp := post(newEngine(t, p, 0), `{"image":"data:image/jpeg;base64,AAAA"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "data:image/jpg;base64,OUT", data["image"])
	assert.Len(t, data["faces"], 1)
	assert.EqualValues(t, 12, data["elapsed_ms"])
	assert.Equal(t, eventbus.SourceHTTP, p.origin.Source)
}

func TestProcessDecodeErrorIsBadRequest(t *testing.T) {
	p := &stubProcessor{err: platformerrors.New(platformerrors.KindDecode, "frame.decode", "bad base64")}
	rec, resp := post(newEngine(t, p, 0), `{"image":"junk"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, face.CodeDecode, resp.Data.(map[string]any)["code"])
}

func TestProcessTimeout(t *testing.T) {
	p := &stubProcessor{err: platformerrors.Wrap(platformerrors.KindVision, "face.detect", "slow", face.ErrDetectTimeout)}
	rec, _ := post(newEngine(t, p, 0), `{"image":"x"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestProcessRejectsBadBodies(t *testing.T) {
	engine := newEngine(t, &stubProcessor{}, 64)

	rec, _ := post(engine, `{"picture":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = post(engine, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = post(engine, `{"image":"`+strings.Repeat("A", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
