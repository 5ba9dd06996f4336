package httptransport

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/security"
	"github.com/TBXark/mail2telegram/internal/service"
	"github.com/TBXark/mail2telegram/internal/telegram"
)

// EmailCache 读取缓存的邮件记录
type EmailCache interface {
	LoadCache(ctx context.Context, id string) (*domain.EmailRecord, bool)
}

// AddressManager 管理动态地址名单
type AddressManager interface {
	Add(ctx context.Context, listType, address string) error
	Remove(ctx context.Context, listType, address string) error
	List(ctx context.Context) service.AddressLists
}

// BotRegistrar 注册机器人 webhook 和命令菜单
type BotRegistrar interface {
	SetWebhook(ctx context.Context, url string) error
	RegisterCommands(ctx context.Context, commands []domain.BotCommand) error
}

// Handler 聚合所有 HTTP 处理逻辑
type Handler struct {
	domain    string
	botToken  string
	cache     EmailCache
	addresses AddressManager
	updates   telegram.UpdateHandler
	bot       BotRegistrar
	commands  []domain.BotCommand
	filter    *security.HTMLFilter
	log       *zap.Logger
}

// WebhookURL 返回机器人 webhook 的完整地址
func WebhookURL(domain, token string) string {
	return "https://" + domain + "/telegram/" + token + "/webhook"
}

// redirectHome 首页跳转到项目主页
func (h *Handler) redirectHome(c *gin.Context) {
	c.Redirect(http.StatusFound, "https://github.com/TBXark/mail2telegram")
}

// getEmail 返回缓存邮件的正文
//
// mode 为 html 时返回清理过的 HTML 正文，其他值返回纯文本。
func (h *Handler) getEmail(c *gin.Context) {
	record, ok := h.cache.LoadCache(c.Request.Context(), c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, MsgEmailNotFound)
		return
	}

	if c.DefaultQuery("mode", "text") == "html" {
		// 邮件 HTML 不可信，禁止脚本但允许外链图片和内联样式
		c.Header("Content-Security-Policy", "default-src 'none'; img-src * data:; style-src 'unsafe-inline' *; font-src *")
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.filter.Sanitize(record.HTML)))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(record.Text))
}

// initBot 注册 webhook 和命令菜单
func (h *Handler) initBot(c *gin.Context) {
	ctx := c.Request.Context()
	url := WebhookURL(h.domain, h.botToken)

	if err := h.bot.SetWebhook(ctx, url); err != nil {
		h.log.Error("set webhook failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	if err := h.bot.RegisterCommands(ctx, h.commands); err != nil {
		h.log.Error("register commands failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}

	h.log.Info("bot initialized", zap.String("domain", h.domain), zap.Int("commands", len(h.commands)))
	c.JSON(http.StatusOK, gin.H{
		"webhook":  gin.H{"ok": true, "url": "https://" + h.domain + "/telegram/<token>/webhook"},
		"commands": gin.H{"ok": true, "count": len(h.commands)},
	})
}

// telegramWebhook 接收机器人平台推送的更新
//
// 处理失败只记录日志，始终返回成功，避免平台反复重推同一条更新。
func (h *Handler) telegramWebhook(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(h.botToken)) != 1 {
		respondError(c, http.StatusForbidden, MsgInvalidToken)
		return
	}

	update, err := telegram.DecodeUpdate(c.Request.Body)
	if err != nil {
		h.log.Warn("invalid telegram update", zap.Error(err))
		respondSuccess(c)
		return
	}

	if err := telegram.Dispatch(c.Request.Context(), update, h.updates); err != nil {
		h.log.Error("telegram update failed", zap.Int("update_id", update.UpdateID), zap.Error(err))
	}
	respondSuccess(c)
}

// addressRequest 是名单修改接口的请求体
type addressRequest struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

func (h *Handler) bindAddress(c *gin.Context) (addressRequest, bool) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(c, http.StatusRequestEntityTooLarge, err.Error())
			return req, false
		}
		respondError(c, http.StatusBadRequest, MsgInvalidJSON)
		return req, false
	}
	return req, true
}

// addAddress 把地址加入动态名单
func (h *Handler) addAddress(c *gin.Context) {
	req, ok := h.bindAddress(c)
	if !ok {
		return
	}
	if err := h.addresses.Add(c.Request.Context(), req.Type, req.Address); err != nil {
		respondError(c, statusOf(err), err.Error())
		return
	}
	respondSuccess(c)
}

// removeAddress 按地址值从动态名单删除
func (h *Handler) removeAddress(c *gin.Context) {
	req, ok := h.bindAddress(c)
	if !ok {
		return
	}
	if err := h.addresses.Remove(c.Request.Context(), req.Type, req.Address); err != nil {
		respondError(c, statusOf(err), err.Error())
		return
	}
	respondSuccess(c)
}

// listAddresses 返回两份动态名单
func (h *Handler) listAddresses(c *gin.Context) {
	c.JSON(http.StatusOK, h.addresses.List(c.Request.Context()))
}
