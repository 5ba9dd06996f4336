package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/auth/jwt"
	"github.com/TBXark/mail2telegram/internal/telegram"
)

// ContextAdminID 是认证通过后管理员 ID 在 gin 上下文中的键
const ContextAdminID = "adminID"

// 小程序 initData 的最长有效期
const initDataMaxAge = 3600 * time.Second

// AdminAuth 管理员认证中间件
//
// 支持两种凭证：
//   - Authorization: tma <initData>，由机器人小程序提供
//   - Authorization: Bearer <token>，由 issue-token 命令签发
type AdminAuth struct {
	botToken   string
	isAdmin    func(id int64) bool
	jwtManager *jwt.Manager
	now        func() time.Time
	log        *zap.Logger
}

// NewAdminAuth 创建管理员认证中间件
//
// 参数:
//   - botToken: 机器人令牌，用于校验 initData 签名
//   - isAdmin: 判断用户 ID 是否在管理员列表中
//   - jwtManager: 为 nil 或未配置密钥时不接受 Bearer 令牌
//   - log: 日志记录器
func NewAdminAuth(botToken string, isAdmin func(id int64) bool, jwtManager *jwt.Manager, log *zap.Logger) *AdminAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminAuth{
		botToken:   botToken,
		isAdmin:    isAdmin,
		jwtManager: jwtManager,
		now:        time.Now,
		log:        log,
	}
}

// RequireAdmin 要求管理员身份
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		authType, credential, _ := strings.Cut(c.GetHeader("Authorization"), " ")

		var (
			adminID int64
			status  int
			message string
		)
		switch {
		case authType == "tma":
			adminID, status, message = a.checkInitData(credential)
		case authType == "Bearer" && a.jwtManager.Enabled():
			adminID, status, message = a.checkBearer(credential)
		default:
			status, message = http.StatusUnauthorized, "Invalid authorization type"
		}

		if status != 0 {
			a.log.Warn("admin authentication failed",
				zap.String("auth_type", authType),
				zap.Int("status", status),
				zap.String("reason", message),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(status, gin.H{"error": message})
			return
		}

		c.Set(ContextAdminID, adminID)
		c.Next()
	}
}

func (a *AdminAuth) checkInitData(initData string) (int64, int, string) {
	user, err := telegram.ValidateInitData(initData, a.botToken, initDataMaxAge, a.now())
	if err != nil {
		return 0, http.StatusUnauthorized, err.Error()
	}
	if !a.isAdmin(user.ID) {
		return 0, http.StatusForbidden, "Permission denied"
	}
	return user.ID, 0, ""
}

func (a *AdminAuth) checkBearer(token string) (int64, int, string) {
	claims, err := a.jwtManager.ValidateToken(token)
	if err != nil {
		return 0, http.StatusUnauthorized, "invalid or expired token"
	}
	id, err := claims.AdminID()
	if err != nil {
		return 0, http.StatusUnauthorized, "invalid or expired token"
	}
	if !a.isAdmin(id) {
		return 0, http.StatusForbidden, "Permission denied"
	}
	return id, 0, ""
}
