package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/middleware"
	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
)

var WeChat = &WeChatService{httpClient: &http.Client{Timeout: 10 * time.Second}}

type WeChatService struct {
	httpClient *http.Client
}

// WXLoginResponse jscode2session 的返回
type WXLoginResponse struct {
	OpenID     string
	SessionKey string
	UnionID    string
}

// Login 用小程序 wx.login 的 code 换取 openid，并签发 token
func (s *WeChatService) Login(ctx context.Context, code string) (*model.User, string, error) {
	if code == "" {
		return nil, "", errors.New("缺少登录code")
	}
	if config.GlobalConfig == nil {
		return nil, "", errors.New("配置未初始化")
	}

	wxResp, err := s.code2Session(ctx, code)
	if err != nil {
		return nil, "", err
	}

	var user model.User
	err = database.DB.Where("open_id = ?", wxResp.OpenID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = model.User{
			OpenID:   wxResp.OpenID,
			UnionID:  wxResp.UnionID,
			Nickname: "微信用户",
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return nil, "", errors.Wrap(err, "创建用户失败")
		}
		logger.Infof("新用户登录: openid=%s", user.OpenID)
	} else if err != nil {
		return nil, "", errors.Wrap(err, "查询用户失败")
	}

	token, err := middleware.GenerateToken(user.OpenID)
	if err != nil {
		return nil, "", errors.Wrap(err, "生成令牌失败")
	}
	return &user, token, nil
}

func (s *WeChatService) code2Session(ctx context.Context, code string) (*WXLoginResponse, error) {
	cfg := config.GlobalConfig.WeChat

	query := url.Values{}
	query.Set("appid", cfg.AppID)
	query.Set("secret", cfg.AppSecret)
	query.Set("js_code", code)
	query.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.LoginURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "构造微信请求失败")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "请求微信接口失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "读取微信响应失败")
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("解析微信响应失败")
	}

	result := gjson.ParseBytes(body)
	if errCode := result.Get("errcode").Int(); errCode != 0 {
		return nil, fmt.Errorf("微信登录失败: %s", result.Get("errmsg").String())
	}

	wxResp := &WXLoginResponse{
		OpenID:     result.Get("openid").String(),
		SessionKey: result.Get("session_key").String(),
		UnionID:    result.Get("unionid").String(),
	}
	if wxResp.OpenID == "" {
		return nil, errors.New("微信登录失败: 未返回openid")
	}
	return wxResp, nil
}
