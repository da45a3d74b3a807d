package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/turmony/douBao/internal/api"
	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/notify"
	"github.com/turmony/douBao/internal/pkg/storage"
	"github.com/turmony/douBao/internal/router"
	"github.com/turmony/douBao/internal/service"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Complete(ctx context.Context, imageURL string) (string, error) {
	return "abc", nil
}

func (stubAnalyzer) Stream(ctx context.Context, imageURL string, onDelta func(string) error) (string, error) {
	for _, d := range []string{"a", "b", "c"} {
		if err := onDelta(d); err != nil {
			return "", err
		}
	}
	return "abc", nil
}

type testServer struct {
	*httptest.Server
	token string
}

// newTestServer 启动完整路由，并通过微信登录拿到 openid 为 user-a 的 token
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	db, err := database.Open(sqlite.Open(filepath.Join(dir, "api.db")))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	wx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("js_code") == "bad" {
			fmt.Fprint(w, `{"errcode":40029,"errmsg":"invalid code"}`)
			return
		}
		fmt.Fprint(w, `{"openid":"user-a","session_key":"k"}`)
	}))
	t.Cleanup(wx.Close)

	engine := gin.New()
	router.SetupRoutes(engine)
	srv := httptest.NewServer(engine)

	cfg := config.Defaults()
	cfg.JWT.Secret = "test-secret"
	cfg.Storage.Secret = "test-secret"
	cfg.Storage.PublicURL = srv.URL
	cfg.Ark.Stream = true
	cfg.Ark.PartialInterval = 0
	cfg.WeChat.LoginURL = wx.URL

	store, err := storage.NewDiskStore(filepath.Join(dir, "blobs"), cfg.Storage.PublicURL, cfg.Storage.Secret)
	require.NoError(t, err)

	prevDB, prevCfg := database.DB, config.GlobalConfig
	database.DB = db
	config.GlobalConfig = cfg
	service.Setup(cfg, store, stubAnalyzer{}, notify.NewHub())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Jobs.Wait(ctx)
		database.DB = prevDB
		config.GlobalConfig = prevCfg
		_ = sqlDB.Close()
	})

	ts := &testServer{Server: srv}
	res := ts.postJSON(t, "/api/v1/auth/wx/login", `{"code":"wx-code"}`)
	require.True(t, res.Get("success").Bool(), res.Raw)
	assert.Equal(t, "user-a", res.Get("openid").String())
	ts.token = res.Get("token").String()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) (int, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, gjson.ParseBytes(raw)
}

func (ts *testServer) postJSON(t *testing.T, path, body string) gjson.Result {
	t.Helper()
	status, res := ts.do(t, http.MethodPost, path, "application/json", strings.NewReader(body))
	require.Equal(t, http.StatusOK, status, res.Raw)
	return res
}

func (ts *testServer) generate(t *testing.T) string {
	t.Helper()
	res := ts.postJSON(t, "/api/v1/binding/generate", `{}`)
	require.True(t, res.Get("success").Bool(), res.Raw)
	return res.Get("code").String()
}

func waitCompleted(t *testing.T, ts *testServer) gjson.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, service.Jobs.Wait(ctx))

	status, res := ts.do(t, http.MethodGet, "/api/v1/session", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Get("success").Bool(), res.Raw)
	return res.Get("session")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, res := ts.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", res.Get("status").String())
	assert.Equal(t, "stream", res.Get("analysis").String())
}

func TestWXLoginFailure(t *testing.T) {
	ts := newTestServer(t)
	res := ts.postJSON(t, "/api/v1/auth/wx/login", `{"code":"bad"}`)
	assert.False(t, res.Get("success").Bool())
	assert.Contains(t, res.Get("error").String(), "invalid code")
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""
	status, res := ts.do(t, http.MethodPost, "/api/v1/binding/generate", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, res.Get("success").Bool())

	ts.token = "not-a-jwt"
	status, _ = ts.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGenerateAndBind(t *testing.T) {
	ts := newTestServer(t)

	before := time.Now()
	res := ts.postJSON(t, "/api/v1/binding/generate", `{}`)
	require.True(t, res.Get("success").Bool(), res.Raw)
	code := res.Get("code").String()
	assert.Regexp(t, `^\d{6}$`, code)
	expire := time.UnixMilli(res.Get("expireTime").Int())
	assert.WithinDuration(t, before.Add(30*time.Minute), expire, 5*time.Second)

	_, sess := ts.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, model.SessionWaiting, sess.Get("session.status").String())
	assert.Equal(t, code, sess.Get("session.code").String())

	tests := []struct {
		name    string
		body    string
		success bool
		errMsg  string
	}{
		{name: "直接调用", body: fmt.Sprintf(`{"code":%q}`, code), success: true},
		{name: "字符串包装", body: fmt.Sprintf(`{"body":%q}`, fmt.Sprintf(`{"code":%q}`, code)), success: true},
		{name: "对象包装", body: fmt.Sprintf(`{"body":{"code":%q},"headers":{}}`, code), success: true},
		{name: "包装无法解析", body: `{"body":"{not json"}`, errMsg: "请求格式错误"},
		{name: "缺少绑定码", body: `{}`, errMsg: "缺少绑定码参数"},
		{name: "格式错误", body: `{"code":"12345"}`, errMsg: "无效的绑定码"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.postJSON(t, "/api/v1/bind", tt.body)
			assert.Equal(t, tt.success, res.Get("success").Bool(), res.Raw)
			if tt.success {
				assert.Equal(t, "user-a", res.Get("openid").String())
				return
			}
			assert.Equal(t, tt.errMsg, res.Get("error").String())
		})
	}

	// 刷新后旧码失效
	res = ts.postJSON(t, "/api/v1/binding/refresh", `{}`)
	require.True(t, res.Get("success").Bool())
	if res.Get("code").String() != code {
		res = ts.postJSON(t, "/api/v1/bind", fmt.Sprintf(`{"code":%q}`, code))
		assert.False(t, res.Get("success").Bool())
		assert.Equal(t, "绑定码无效或已过期", res.Get("error").String())
	}
}

func TestUploadOctetStream(t *testing.T) {
	ts := newTestServer(t)
	code := ts.generate(t)

	status, res := ts.do(t, http.MethodPost, "/api/v1/upload?code="+code, "application/octet-stream", bytes.NewReader([]byte("raw-jpeg")))
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Get("success").Bool(), res.Raw)
	assert.Equal(t, "上传成功，正在分析中", res.Get("message").String())
	fileID := res.Get("fileID").String()
	assert.True(t, strings.HasPrefix(fileID, "blob://screenshots/user-a/"))

	jobID := res.Get("jobId").String()
	sess := waitCompleted(t, ts)
	assert.Equal(t, model.SessionCompleted, sess.Get("status").String())
	assert.Equal(t, "abc", sess.Get("answer").String())
	assert.Equal(t, "", sess.Get("partialAnswer").String())
	assert.Equal(t, fileID, sess.Get("imageUrl").String())

	_, job := ts.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, "", nil)
	assert.Equal(t, model.JobDone, job.Get("job.status").String())

	// 展示链接可以直接下载图片
	tmp := ts.postJSON(t, "/api/v1/storage/temp-url", fmt.Sprintf(`{"fileID":%q}`, fileID))
	require.True(t, tmp.Get("success").Bool(), tmp.Raw)
	resp, err := ts.Client().Get(tmp.Get("tempUrl").String())
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "raw-jpeg", string(data))
}

func TestUploadMultipartAndBase64(t *testing.T) {
	ts := newTestServer(t)
	code := ts.generate(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("code", code))
	fw, err := mw.CreateFormFile("image", "shot.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("form-jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	_, res := ts.do(t, http.MethodPost, "/api/v1/upload", mw.FormDataContentType(), &buf)
	require.True(t, res.Get("success").Bool(), res.Raw)
	waitCompleted(t, ts)

	body := fmt.Sprintf(`{"body":{"code":%q,"imageBase64":%q}}`, code, base64.StdEncoding.EncodeToString([]byte("b64-jpeg")))
	res = ts.postJSON(t, "/api/v1/upload", body)
	require.True(t, res.Get("success").Bool(), res.Raw)
	sess := waitCompleted(t, ts)
	assert.Equal(t, res.Get("fileID").String(), sess.Get("imageUrl").String())

	res = ts.postJSON(t, "/api/v1/upload", fmt.Sprintf(`{"code":%q,"imageBase64":"***"}`, code))
	assert.False(t, res.Get("success").Bool())
}

func TestUploadRejections(t *testing.T) {
	ts := newTestServer(t)
	code := ts.generate(t)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        []byte
		errMsg      string
	}{
		{name: "缺少绑定码", path: "/api/v1/upload", contentType: "application/octet-stream", body: []byte("x"), errMsg: "缺少绑定码参数"},
		{name: "JSON缺少图片", path: "/api/v1/upload", contentType: "application/json", body: []byte(fmt.Sprintf(`{"code":%q}`, code)), errMsg: "缺少图片数据"},
		{name: "图片过大", path: "/api/v1/upload", contentType: "application/json", body: oversized(code), errMsg: "图片过大(10.00MB)"},
		{name: "请求体超过读取上限", path: "/api/v1/upload", contentType: "application/json", body: oversizedBody(code), errMsg: "图片过大(12.50MB)"},
		{name: "绑定码错误", path: "/api/v1/upload?code=abcdef", contentType: "application/octet-stream", body: []byte("x"), errMsg: "绑定码无效或已过期"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := ts.do(t, http.MethodPost, tt.path, tt.contentType, bytes.NewReader(tt.body))
			assert.Equal(t, http.StatusOK, status)
			assert.False(t, res.Get("success").Bool())
			assert.Equal(t, tt.errMsg, res.Get("error").String())
		})
	}

	_, sess := ts.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, model.SessionWaiting, sess.Get("session.status").String())
}

func oversized(code string) []byte {
	img := base64.StdEncoding.EncodeToString(make([]byte, 10*1024*1024+1))
	return []byte(fmt.Sprintf(`{"code":%q,"imageBase64":%q}`, code, img))
}

// oversizedBody base64 编码后超过 JSON 请求体的读取上限
func oversizedBody(code string) []byte {
	img := base64.StdEncoding.EncodeToString(make([]byte, 12*1024*1024+512*1024))
	return []byte(fmt.Sprintf(`{"code":%q,"imageBase64":%q}`, code, img))
}

func TestGrantUpload(t *testing.T) {
	ts := newTestServer(t)
	code := ts.generate(t)

	grant := ts.postJSON(t, "/api/v1/upload/url", fmt.Sprintf(`{"code":%q}`, code))
	require.True(t, grant.Get("success").Bool(), grant.Raw)
	assert.Equal(t, "user-a", grant.Get("openid").String())

	req, err := http.NewRequest(http.MethodPut, grant.Get("uploadUrl").String(), strings.NewReader("put-jpeg"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 篡改路径后令牌失效
	u, err := url.Parse(grant.Get("uploadUrl").String())
	require.NoError(t, err)
	u.Path = strings.Replace(u.Path, "user-a", "user-b", 1)
	req, err = http.NewRequest(http.MethodPut, u.String(), strings.NewReader("evil"))
	require.NoError(t, err)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	fileID := grant.Get("fileID").String()
	res := ts.postJSON(t, "/api/v1/upload", fmt.Sprintf(`{"code":%q,"fileID":%q}`, code, fileID))
	require.True(t, res.Get("success").Bool(), res.Raw)
	sess := waitCompleted(t, ts)
	assert.Equal(t, fileID, sess.Get("imageUrl").String())
}

func TestUploadToStorage(t *testing.T) {
	ts := newTestServer(t)
	code := ts.generate(t)
	content := base64.StdEncoding.EncodeToString([]byte("stored"))

	res := ts.postJSON(t, "/api/v1/upload/storage", fmt.Sprintf(`{"code":%q,"cloudPath":"screenshots/user-a/s.jpg","fileContent":%q}`, code, content))
	require.True(t, res.Get("success").Bool(), res.Raw)
	assert.Equal(t, "blob://screenshots/user-a/s.jpg", res.Get("fileID").String())

	res = ts.postJSON(t, "/api/v1/upload/storage", fmt.Sprintf(`{"code":%q,"cloudPath":"screenshots/other/s.jpg","fileContent":%q}`, code, content))
	assert.False(t, res.Get("success").Bool())
	assert.Equal(t, "无权访问该文件", res.Get("error").String())
}

func TestTempURLForbidden(t *testing.T) {
	ts := newTestServer(t)
	res := ts.postJSON(t, "/api/v1/storage/temp-url", `{"fileID":"blob://screenshots/user-b/1.jpg"}`)
	assert.False(t, res.Get("success").Bool())
	assert.Equal(t, "无权访问该文件", res.Get("error").String())

	resp, err := ts.Client().Get(ts.URL + "/api/v1/blob/screenshots/user-a/1.jpg?token=forged")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWatchSession(t *testing.T) {
	ts := newTestServer(t)
	code := ts.generate(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/session/watch", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 32)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data:") {
				events <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()

	next := func() gjson.Result {
		select {
		case data, ok := <-events:
			require.True(t, ok, "SSE 连接提前关闭")
			return gjson.Parse(data)
		case <-time.After(3 * time.Second):
			t.Fatal("没有收到 SSE 事件")
			return gjson.Result{}
		}
	}

	first := next()
	assert.Equal(t, model.SessionWaiting, first.Get("status").String())

	_, res := ts.do(t, http.MethodPost, "/api/v1/upload?code="+code, "application/octet-stream", strings.NewReader("img"))
	require.True(t, res.Get("success").Bool(), res.Raw)

	var statuses []string
	for {
		ev := next()
		statuses = append(statuses, ev.Get("status").String())
		if ev.Get("status").String() == model.SessionCompleted {
			assert.Equal(t, "abc", ev.Get("answer").String())
			break
		}
	}
	assert.Equal(t, model.SessionProcessing, statuses[0])
	assert.Contains(t, statuses, model.SessionStreaming)
}

func TestUserProfile(t *testing.T) {
	ts := newTestServer(t)

	status, res := ts.do(t, http.MethodGet, "/api/v1/user/profile", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Get("success").Bool(), res.Raw)
	assert.Equal(t, "user-a", res.Get("user.openid").String())
	assert.Equal(t, "微信用户", res.Get("user.nickname").String())

	status, res = ts.do(t, http.MethodPut, "/api/v1/user/profile", "application/json", strings.NewReader(`{"nickname":"小明"}`))
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Get("success").Bool(), res.Raw)

	_, res = ts.do(t, http.MethodGet, "/api/v1/user/profile", "", nil)
	assert.Equal(t, "小明", res.Get("user.nickname").String())

	long := strings.Repeat("a", 65)
	_, res = ts.do(t, http.MethodPut, "/api/v1/user/profile", "application/json", strings.NewReader(`{"nickname":"`+long+`"}`))
	assert.False(t, res.Get("success").Bool())
	assert.Equal(t, "参数错误: Nickname长度不能超过64", res.Get("error").String())
}

func TestWXLoginMissingCode(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	status, res := ts.do(t, http.MethodPost, "/api/v1/auth/wx/login", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Get("success").Bool())
	assert.Equal(t, "参数错误", res.Get("error").String())
}

// TestCloseWatchers 服务关闭时正在推送的 SSE 连接会被断开
func TestCloseWatchers(t *testing.T) {
	ts := newTestServer(t)
	ts.generate(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/session/watch", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:session\n", line)

	api.CloseWatchers()

	ended := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, r)
		ended <- err
	}()
	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("关闭后 SSE 连接仍未结束")
	}
}
