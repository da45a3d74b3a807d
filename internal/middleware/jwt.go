package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
)

// OpenIDKey 上下文中保存调用者 openid 的键
const OpenIDKey = "openid"

func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.GlobalConfig == nil {
			logger.Error("配置未初始化")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "系统错误，无法验证身份",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "未登录或token已过期",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "token格式错误",
			})
			return
		}

		claims, err := ParseToken(parts[1], config.GlobalConfig.JWT.Secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "token无效: " + err.Error(),
			})
			return
		}

		// 检查用户是否存在且未被删除
		var user model.User
		if err := database.DB.Where("open_id = ?", claims.OpenID).First(&user).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "用户不存在或已被删除",
			})
			return
		}

		c.Set(OpenIDKey, claims.OpenID)
		c.Next()
	}
}

// OpenID 取出 JWT 中间件写入的 openid
func OpenID(c *gin.Context) string {
	return c.GetString(OpenIDKey)
}

type Claims struct {
	OpenID string `json:"openid"`
	jwt.StandardClaims
}

// ParseToken 校验并解析用户 token
func ParseToken(tokenString string, secretKey string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名方法: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.OpenID != "" {
		return claims, nil
	}
	return nil, fmt.Errorf("无效的token")
}

// GenerateToken 为小程序用户签发 token
func GenerateToken(openid string) (string, error) {
	if config.GlobalConfig == nil {
		return "", fmt.Errorf("配置未初始化")
	}
	jwtConfig := config.GlobalConfig.JWT

	expireSeconds := jwtConfig.ExpireTime
	issuedAt := time.Now()
	expireTime := issuedAt.Add(time.Duration(expireSeconds) * time.Second)

	claims := Claims{
		OpenID: openid,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expireTime.Unix(),
			IssuedAt:  issuedAt.Unix(),
			Subject:   openid,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(jwtConfig.Secret))
	if err != nil {
		return "", err
	}

	logger.Debugf("生成token，openid: %s，过期时间: %v（%d秒后）", openid, expireTime, expireSeconds)
	return tokenStr, nil
}
