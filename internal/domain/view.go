package domain

import "context"

// ActionKind 区分按钮类型
type ActionKind int

const (
	// ActionCallback 点击后回调机器人，Value 为回调数据
	ActionCallback ActionKind = iota
	// ActionURL 点击后打开链接，Value 为 URL
	ActionURL
)

// Action 是视图上的一个内联按钮
type Action struct {
	Label string
	Kind  ActionKind
	Value string
}

// View 是一封缓存邮件的某种展示形式，每次请求时重新生成
type View struct {
	Text    string
	Actions []Action
}

// MessageHandle 定位机器人已发送的一条消息
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// BotCommand 是注册到机器人菜单中的命令
type BotCommand struct {
	Command     string
	Description string
}

// Notifier 是机器人平台的发送端
type Notifier interface {
	Send(ctx context.Context, chatID int64, view View) (MessageHandle, error)
	Edit(ctx context.Context, handle MessageHandle, view View) error
	Delete(ctx context.Context, handle MessageHandle) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	SetWebhook(ctx context.Context, url string) error
	RegisterCommands(ctx context.Context, commands []BotCommand) error
}

// Summarizer 把邮件正文压缩成简短摘要
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// CommandMessage 是发给机器人的一条命令消息
type CommandMessage struct {
	ChatID int64
	UserID int64
	Text   string
}

// CallbackEvent 是一次内联按钮点击
type CallbackEvent struct {
	ID      string
	Message MessageHandle
	UserID  int64
	Data    string
}

// 回调数据中的动作前缀，参数是缓存记录的 ID
const (
	CallbackPreview = "p"
	CallbackList    = "l"
	CallbackSummary = "s"
	CallbackDebug   = "d"
	CallbackDelete  = "delete"
)
