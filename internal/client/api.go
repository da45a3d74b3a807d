package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/ark"
)

const (
	ModeDirect = "direct"
	ModeGrant  = "grant"
	ModeBase64 = "base64"
)

// API 服务端接口的 HTTP 客户端
type API struct {
	server     string
	token      string
	httpClient *http.Client
}

func NewAPI(server, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &API{
		server:     strings.TrimRight(server, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Bind 校验绑定码，返回绑定的 openid
func (a *API) Bind(ctx context.Context, code string) (string, error) {
	res, err := a.postJSON(ctx, "/api/v1/bind", map[string]string{"code": code})
	if err != nil {
		return "", err
	}
	return res.Get("openid").String(), nil
}

// Upload 按指定方式上传截图，返回 fileID
func (a *API) Upload(ctx context.Context, code string, data []byte, mode string) (string, error) {
	switch mode {
	case ModeDirect, "":
		res, err := a.call(ctx, http.MethodPost, "/api/v1/upload?code="+url.QueryEscape(code),
			"application/octet-stream", bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", err
		}
		return res.Get("fileID").String(), nil

	case ModeGrant:
		grant, err := a.postJSON(ctx, "/api/v1/upload/url", map[string]string{"code": code})
		if err != nil {
			return "", err
		}
		if _, err := a.callURL(ctx, http.MethodPut, grant.Get("uploadUrl").String(),
			"application/octet-stream", bytes.NewReader(data), int64(len(data))); err != nil {
			return "", errors.Wrap(err, "直传云存储失败")
		}
		fileID := grant.Get("fileID").String()
		if _, err := a.postJSON(ctx, "/api/v1/upload", map[string]string{"code": code, "fileID": fileID}); err != nil {
			return "", err
		}
		return fileID, nil

	case ModeBase64:
		res, err := a.postJSON(ctx, "/api/v1/upload", map[string]string{
			"code":        code,
			"imageBase64": base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			return "", err
		}
		return res.Get("fileID").String(), nil

	default:
		return "", errors.Errorf("不支持的上传方式: %s", mode)
	}
}

// Session 拉取一次当前会话
func (a *API) Session(ctx context.Context) (*model.Session, error) {
	res, err := a.call(ctx, http.MethodGet, "/api/v1/session", "", nil, 0)
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(res.Get("session").Raw), &sess); err != nil {
		return nil, errors.Wrap(err, "解析会话失败")
	}
	return &sess, nil
}

// Watch 订阅会话推送，直到连接断开或 ctx 结束
func (a *API) Watch(ctx context.Context, fn func(*model.Session)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.server+"/api/v1/session/watch", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "订阅会话失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("订阅会话失败: HTTP %d", resp.StatusCode)
	}

	return ark.ReadEvents(resp.Body, func(data string) (bool, error) {
		// ping 事件的数据是时间戳，只处理对象
		if !gjson.Valid(data) || !gjson.Parse(data).IsObject() {
			return true, nil
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return true, nil
		}
		fn(&sess)
		return true, nil
	})
}

// TempURL 获取截图的展示链接
func (a *API) TempURL(ctx context.Context, fileID string) (string, error) {
	res, err := a.postJSON(ctx, "/api/v1/storage/temp-url", map[string]string{"fileID": fileID})
	if err != nil {
		return "", err
	}
	return res.Get("tempUrl").String(), nil
}

func (a *API) postJSON(ctx context.Context, path string, payload interface{}) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}
	return a.call(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), int64(len(body)))
}

func (a *API) call(ctx context.Context, method, path, contentType string, body io.Reader, size int64) (gjson.Result, error) {
	return a.callURL(ctx, method, a.server+path, contentType, body, size)
}

// callURL 发送请求并检查 success 字段
func (a *API) callURL(ctx context.Context, method, target, contentType string, body io.Reader, size int64) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if body != nil {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "请求服务器失败")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "读取响应失败")
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, errors.Errorf("响应格式错误: HTTP %d", resp.StatusCode)
	}

	res := gjson.ParseBytes(raw)
	if !res.Get("success").Bool() {
		msg := res.Get("error").String()
		if msg == "" {
			msg = "未知错误"
		}
		return res, errors.New(msg)
	}
	return res, nil
}

func (a *API) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}
