package domain

import "fmt"

// AddressStatus 是单个地址的名单匹配结果
type AddressStatus string

const (
	AddressAllow   AddressStatus = "allow"
	AddressBlock   AddressStatus = "block"
	AddressNoMatch AddressStatus = "no_match"
)

// ListName 标识一份地址名单
type ListName string

const (
	ListWhite ListName = "white"
	ListBlock ListName = "block"
)

// ParseListName 将外部输入解析为名单名称
func ParseListName(value string) (ListName, error) {
	switch ListName(value) {
	case ListWhite, ListBlock:
		return ListName(value), nil
	default:
		return "", fmt.Errorf("invalid list type: %q", value)
	}
}

// 被拦截邮件的处理策略，可组合
const (
	BlockPolicyReject   = "reject"
	BlockPolicyForward  = "forward"
	BlockPolicyTelegram = "telegram"
)
