package storage

import "encoding/json"

// tryDecode 将存储中的 JSON 字符串解码为 T，任何失败都返回零值和 false
func tryDecode[T any](raw string) (T, bool) {
	var out T
	if raw == "" {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}
