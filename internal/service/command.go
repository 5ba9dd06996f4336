package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/monitoring"
	"github.com/TBXark/mail2telegram/internal/storage"
)

// 命令和回调的固定回复
const (
	msgNotAllowed      = "You are not allowed to use this command."
	msgDynamicDisabled = "Dynamic address lists are disabled."
	msgInvalidIndex    = "Invalid index."
	msgListEmpty       = "List is empty"
	msgMailNotFound    = "Error: Email not found or expired."
)

// commandKind 是机器人支持的命令
type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdID
	cmdTest
	cmdAdd
	cmdRemove
	cmdList
)

// parsedCommand 是解析后的命令
type parsedCommand struct {
	name string
	kind commandKind
	list domain.ListName
	arg  string
}

// parseCommand 解析 "/name@bot arg" 形式的文本，非命令返回 false
func parseCommand(text string) (parsedCommand, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return parsedCommand{}, false
	}

	word, arg, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	cmd := parsedCommand{name: word, arg: strings.TrimSpace(arg)}

	switch word {
	case "id", "start":
		cmd.kind = cmdID
	case "test":
		cmd.kind = cmdTest
	case "add_white", "add_block":
		cmd.kind = cmdAdd
	case "remove_white", "remove_block":
		cmd.kind = cmdRemove
	case "list_white", "list_block":
		cmd.kind = cmdList
	default:
		cmd.kind = cmdUnknown
	}

	if strings.HasSuffix(word, "_white") {
		cmd.list = domain.ListWhite
	} else if strings.HasSuffix(word, "_block") {
		cmd.list = domain.ListBlock
	}
	return cmd, true
}

// Commands 返回注册到机器人菜单的命令列表
func Commands() []domain.BotCommand {
	return []domain.BotCommand{
		{Command: "id", Description: "/id - Get your chat ID"},
		{Command: "test", Description: "/test - Test an email address"},
		{Command: "add_white", Description: "/add_white - Add an address to the white list"},
		{Command: "remove_white", Description: "/remove_white - Remove an address from the white list by index"},
		{Command: "list_white", Description: "/list_white - Show the white list"},
		{Command: "add_block", Description: "/add_block - Add an address to the block list"},
		{Command: "remove_block", Description: "/remove_block - Remove an address from the block list by index"},
		{Command: "list_block", Description: "/list_block - Show the block list"},
	}
}

// ViewRenderer 渲染回调需要的各种视图
type ViewRenderer interface {
	List(record *domain.EmailRecord) domain.View
	Preview(record *domain.EmailRecord) domain.View
	Summary(ctx context.Context, record *domain.EmailRecord) domain.View
	Debug(ctx context.Context, record *domain.EmailRecord) domain.View
}

// AddressClassifier 判定地址并报告动态名单是否启用
type AddressClassifier interface {
	Classify(ctx context.Context, address string) domain.AddressStatus
	DynamicEnabled() bool
}

// CommandStore 是命令处理用到的持久化操作
type CommandStore interface {
	LoadCache(ctx context.Context, id string) (*domain.EmailRecord, bool)
	LoadList(ctx context.Context, name domain.ListName) []string
	AddToList(ctx context.Context, name domain.ListName, address string) (bool, error)
	RemoveFromListByIndex(ctx context.Context, name domain.ListName, index int) (string, error)
}

// CommandService 处理机器人命令和按钮回调
type CommandService struct {
	telegram config.TelegramConfig
	policy   AddressClassifier
	store    CommandStore
	renderer ViewRenderer
	notifier domain.Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewCommandService 创建命令服务
func NewCommandService(
	cfg *config.Config,
	policy AddressClassifier,
	store CommandStore,
	renderer ViewRenderer,
	notifier domain.Notifier,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *CommandService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandService{
		telegram: cfg.Telegram,
		policy:   policy,
		store:    store,
		renderer: renderer,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

// HandleCommand 处理一条文本消息，非命令文本被忽略
func (s *CommandService) HandleCommand(ctx context.Context, msg domain.CommandMessage) error {
	cmd, ok := parseCommand(msg.Text)
	if !ok {
		s.log.Debug("ignoring non-command message", zap.Int64("chat_id", msg.ChatID))
		return nil
	}
	s.metrics.RecordCommand(cmd.name)

	reply := s.execute(ctx, msg, cmd)
	if _, err := s.notifier.Send(ctx, msg.ChatID, domain.View{Text: reply}); err != nil {
		return fmt.Errorf("reply to /%s: %w", cmd.name, err)
	}
	return nil
}

func (s *CommandService) execute(ctx context.Context, msg domain.CommandMessage, cmd parsedCommand) string {
	switch cmd.kind {
	case cmdID:
		return fmt.Sprintf("Your chat ID is %d", msg.ChatID)
	case cmdUnknown:
		return fmt.Sprintf("Unknown command: %s, try to reinitialize the bot.", cmd.name)
	}

	if !s.isAdmin(msg) {
		s.log.Warn("unauthorized command",
			zap.String("command", cmd.name),
			zap.Int64("chat_id", msg.ChatID),
			zap.Int64("user_id", msg.UserID),
		)
		return msgNotAllowed
	}

	switch cmd.kind {
	case cmdTest:
		if cmd.arg == "" {
			return "Usage: /test <address>"
		}
		return fmt.Sprintf("%s: %s", cmd.arg, s.policy.Classify(ctx, cmd.arg))
	case cmdList:
		return formatList(s.store.LoadList(ctx, cmd.list))
	case cmdAdd:
		if !s.policy.DynamicEnabled() {
			return msgDynamicDisabled
		}
		return s.add(ctx, cmd)
	case cmdRemove:
		if !s.policy.DynamicEnabled() {
			return msgDynamicDisabled
		}
		return s.remove(ctx, cmd)
	}
	return fmt.Sprintf("Unknown command: %s, try to reinitialize the bot.", cmd.name)
}

func (s *CommandService) add(ctx context.Context, cmd parsedCommand) string {
	if cmd.arg == "" {
		return fmt.Sprintf("Usage: /%s <address>", cmd.name)
	}
	added, err := s.store.AddToList(ctx, cmd.list, cmd.arg)
	if err != nil {
		s.log.Error("add to list failed", zap.String("list", string(cmd.list)), zap.Error(err))
		return "Error: " + err.Error()
	}
	if !added {
		return fmt.Sprintf("%s is already in the %s list.", cmd.arg, cmd.list)
	}
	return fmt.Sprintf("Added %s to the %s list.", cmd.arg, cmd.list)
}

func (s *CommandService) remove(ctx context.Context, cmd parsedCommand) string {
	index, err := strconv.Atoi(cmd.arg)
	if err != nil {
		return msgInvalidIndex
	}
	removed, err := s.store.RemoveFromListByIndex(ctx, cmd.list, index)
	if errors.Is(err, storage.ErrInvalidIndex) {
		return msgInvalidIndex
	}
	if err != nil {
		s.log.Error("remove from list failed", zap.String("list", string(cmd.list)), zap.Error(err))
		return "Error: " + err.Error()
	}
	return fmt.Sprintf("Removed %s from the %s list.", removed, cmd.list)
}

func (s *CommandService) isAdmin(msg domain.CommandMessage) bool {
	if msg.UserID != 0 && s.telegram.IsAdmin(msg.UserID) {
		return true
	}
	return s.telegram.IsAdmin(msg.ChatID)
}

// formatList 生成从 1 开始编号的列表
func formatList(items []string) string {
	if len(items) == 0 {
		return msgListEmpty
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item)
	}
	return b.String()
}

// HandleCallback 处理一次按钮点击
//
// 记录不存在或编辑失败时弹窗提示，原消息保持不变。
func (s *CommandService) HandleCallback(ctx context.Context, cb domain.CallbackEvent) error {
	if cb.Data == "" || cb.Message.ChatID == 0 || cb.Message.MessageID == 0 {
		s.log.Warn("invalid callback", zap.String("callback_id", cb.ID), zap.String("data", cb.Data))
		return nil
	}

	action, arg, _ := strings.Cut(cb.Data, ":")
	log := s.log.With(zap.String("action", action), zap.String("id", arg))

	var err error
	switch action {
	case domain.CallbackDelete:
		err = s.notifier.Delete(ctx, cb.Message)
	case domain.CallbackPreview, domain.CallbackList, domain.CallbackSummary, domain.CallbackDebug:
		err = s.renderInPlace(ctx, cb.Message, action, arg)
	default:
		s.metrics.RecordCallback("unknown", "ignored")
		log.Warn("unknown callback data", zap.String("data", cb.Data))
		return nil
	}

	if err == nil {
		s.metrics.RecordCallback(action, "success")
		return nil
	}

	s.metrics.RecordCallback(action, "failure")
	log.Warn("callback failed", zap.Error(err))
	if answerErr := s.notifier.AnswerCallback(ctx, cb.ID, err.Error(), true); answerErr != nil {
		return fmt.Errorf("answer callback: %w", answerErr)
	}
	return nil
}

var errMailNotFound = errors.New(msgMailNotFound)

func (s *CommandService) renderInPlace(ctx context.Context, handle domain.MessageHandle, action, id string) error {
	record, ok := s.store.LoadCache(ctx, id)
	if !ok {
		return errMailNotFound
	}

	var view domain.View
	switch action {
	case domain.CallbackPreview:
		view = s.renderer.Preview(record)
	case domain.CallbackList:
		view = s.renderer.List(record)
	case domain.CallbackSummary:
		view = s.renderer.Summary(ctx, record)
		s.metrics.RecordSummary("rendered")
	case domain.CallbackDebug:
		view = s.renderer.Debug(ctx, record)
	}
	return s.notifier.Edit(ctx, handle, view)
}
