package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInitDataHash 签名不匹配
	ErrInitDataHash = errors.New("invalid init data hash")
	// ErrInitDataExpired auth_date 超过有效期
	ErrInitDataExpired = errors.New("init data expired")
	// ErrInitDataUser 缺少用户信息
	ErrInitDataUser = errors.New("init data has no user")
)

// InitDataUser 是小程序 initData 中的用户
type InitDataUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ValidateInitData 校验小程序 initData 签名并返回其中的用户
//
// maxAge 为 0 时不检查 auth_date。
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*InitDataUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrInitDataHash
	}
	values.Del("hash")

	if !hmac.Equal([]byte(hash), []byte(signInitData(values, botToken))) {
		return nil, ErrInitDataHash
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid auth_date: %w", err)
		}
		if now.Sub(time.Unix(authDate, 0)) > maxAge {
			return nil, ErrInitDataExpired
		}
	}

	raw := values.Get("user")
	if raw == "" {
		return nil, ErrInitDataUser
	}
	var user InitDataUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == 0 {
		return nil, ErrInitDataUser
	}
	return &user, nil
}

// signInitData 计算除 hash 外所有字段的签名（十六进制）
func signInitData(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
