package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 定义入站 SMTP 服务器的配置
type SMTPConfig struct {
	BindAddr        string // 监听地址，格式 "host:port"，默认 ":2525"
	Domain          string // HELO/EHLO 响应中使用的域名
	MaxMessageBytes int64  // 单封邮件的硬上限
	MaxRecipients   int    // 单次事务最多收件人数
	MaxConns        int    // 最大并发连接数
	ConnRate        int    // 每秒最多新建连接数
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空则只输出到标准输出
}

// StorageConfig 选择键值存储后端
type StorageConfig struct {
	Type string // memory, redis, sql, pgx
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// TelegramConfig 定义机器人相关配置
type TelegramConfig struct {
	Token       string   // 机器人令牌
	ChatIDs     []string // 管理员会话 ID，同时也是通知接收方
	APIEndpoint string   // API 地址模板，两个 %s 分别是令牌和方法名
}

// MailConfig 定义邮件处理流水线配置
type MailConfig struct {
	ForwardList       []string
	WhiteList         []string
	BlockList         []string
	DisableLoadFromDB bool          // 关闭动态名单
	BlockPolicy       []string      // reject, forward, telegram 的组合
	GuardianMode      bool          // 开启后按 Message-ID 记录投递状态
	TTL               time.Duration // 邮件缓存有效期
	StatusTTL         time.Duration // 投递状态有效期
	MaxSize           int64         // 超过该大小触发溢出策略
	MaxSizePolicy     string        // unhandled, truncate 或其他
	UseMIMEHeaders    bool          // 使用邮件正文头覆盖信封地址
}

// SummaryConfig 定义摘要服务配置
type SummaryConfig struct {
	APIKey     string
	Endpoint   string
	Model      string
	TargetLang string
}

// Enabled 报告是否配置了摘要服务
func (c SummaryConfig) Enabled() bool {
	return c.APIKey != ""
}

// ForwardSMTPConfig 定义 SMTP 转发中继
type ForwardSMTPConfig struct {
	Addr               string
	TLS                bool // 隐式 TLS
	StartTLS           bool
	InsecureSkipVerify bool
	Username           string
	Password           string
	Sender             string // 为空时沿用原信封发件人
}

// ForwardSESConfig 定义 SES 转发
type ForwardSESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// ForwardConfig 选择转发通道
type ForwardConfig struct {
	Type string // smtp, ses, none
	SMTP ForwardSMTPConfig
	SES  ForwardSESConfig
}

// JWTConfig 定义地址管理 API 的 Bearer 令牌配置
type JWTConfig struct {
	Secret string        // 为空表示不启用 Bearer 认证
	Issuer string        // 签发者标识，默认 "mail2telegram"
	Expiry time.Duration // 令牌有效期，默认 30 天
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	SMTP     SMTPConfig
	CORS     CORSConfig
	Log      LogConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Mail     MailConfig
	Summary  SummaryConfig
	Forward  ForwardConfig
	JWT      JWTConfig
	Domain   string // 对外访问域名，用于 webhook 与正文链接
	Debug    bool
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAIL2TG_
// 例如: MAIL2TG_TELEGRAM_TOKEN, MAIL2TG_MAIL_BLOCK_POLICY
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mail2tg")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("smtp.bind_addr", ":2525")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.max_conns", 100)
	v.SetDefault("smtp.conn_rate", 20)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("database.type", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.id", "")
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("domain", "")
	v.SetDefault("debug", false)
	v.SetDefault("mail.forward_list", "")
	v.SetDefault("mail.white_list", "")
	v.SetDefault("mail.block_list", "")
	v.SetDefault("mail.disable_load_from_db", false)
	v.SetDefault("mail.block_policy", "telegram")
	v.SetDefault("mail.guardian_mode", false)
	v.SetDefault("mail.ttl", "24h")
	v.SetDefault("mail.status_ttl", "1h")
	v.SetDefault("mail.max_size", 512*1024)
	v.SetDefault("mail.max_size_policy", "truncate")
	v.SetDefault("mail.use_mime_headers", false)
	v.SetDefault("summary.api_key", "")
	v.SetDefault("summary.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("summary.model", "gpt-4o-mini")
	v.SetDefault("summary.target_lang", "english")
	v.SetDefault("forward.type", "smtp")
	v.SetDefault("forward.smtp.addr", "")
	v.SetDefault("forward.smtp.tls", false)
	v.SetDefault("forward.smtp.starttls", true)
	v.SetDefault("forward.smtp.insecure_skip_verify", false)
	v.SetDefault("forward.smtp.username", "")
	v.SetDefault("forward.smtp.password", "")
	v.SetDefault("forward.smtp.sender", "")
	v.SetDefault("forward.ses.region", "us-east-1")
	v.SetDefault("forward.ses.access_key_id", "")
	v.SetDefault("forward.ses.secret_access_key", "")
	v.SetDefault("forward.ses.sender", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "mail2telegram")
	v.SetDefault("jwt.expiry", "720h")

	mailTTL, err := time.ParseDuration(v.GetString("mail.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mail.ttl: %w", err)
	}
	statusTTL, err := time.ParseDuration(v.GetString("mail.status_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mail.status_ttl: %w", err)
	}

	maxSize := v.GetInt64("mail.max_size")
	if maxSize <= 0 {
		return nil, fmt.Errorf("mail.max_size must be positive")
	}

	storageType := strings.ToLower(v.GetString("storage.type"))
	switch storageType {
	case "memory", "redis", "sql", "pgx":
	default:
		return nil, fmt.Errorf("unsupported storage.type: %s (supported: memory, redis, sql, pgx)", storageType)
	}

	forwardType := strings.ToLower(v.GetString("forward.type"))
	switch forwardType {
	case "smtp", "ses", "none":
	default:
		return nil, fmt.Errorf("unsupported forward.type: %s (supported: smtp, ses, none)", forwardType)
	}

	chatIDs := parseList(v.GetString("telegram.id"))
	for _, id := range chatIDs {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid telegram.id entry %q: %w", id, err)
		}
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	jwtExpiry, err := time.ParseDuration(v.GetString("jwt.expiry"))
	if err != nil {
		jwtExpiry = 30 * 24 * time.Hour
	}

	// Bearer 认证是可选的，但一旦启用密钥必须足够长
	jwtSecret := v.GetString("jwt.secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			Domain:          v.GetString("smtp.domain"),
			MaxMessageBytes: v.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   v.GetInt("smtp.max_recipients"),
			MaxConns:        v.GetInt("smtp.max_conns"),
			ConnRate:        v.GetInt("smtp.conn_rate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Storage: StorageConfig{
			Type: storageType,
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Telegram: TelegramConfig{
			Token:       v.GetString("telegram.token"),
			ChatIDs:     chatIDs,
			APIEndpoint: v.GetString("telegram.api_endpoint"),
		},
		Mail: MailConfig{
			ForwardList:       parseJSONList(v.GetString("mail.forward_list")),
			WhiteList:         parseJSONList(v.GetString("mail.white_list")),
			BlockList:         parseJSONList(v.GetString("mail.block_list")),
			DisableLoadFromDB: v.GetBool("mail.disable_load_from_db"),
			BlockPolicy:       parseLowerList(v.GetString("mail.block_policy")),
			GuardianMode:      v.GetBool("mail.guardian_mode"),
			TTL:               mailTTL,
			StatusTTL:         statusTTL,
			MaxSize:           maxSize,
			MaxSizePolicy:     strings.ToLower(v.GetString("mail.max_size_policy")),
			UseMIMEHeaders:    v.GetBool("mail.use_mime_headers"),
		},
		Summary: SummaryConfig{
			APIKey:     v.GetString("summary.api_key"),
			Endpoint:   v.GetString("summary.endpoint"),
			Model:      v.GetString("summary.model"),
			TargetLang: v.GetString("summary.target_lang"),
		},
		Forward: ForwardConfig{
			Type: forwardType,
			SMTP: ForwardSMTPConfig{
				Addr:               v.GetString("forward.smtp.addr"),
				TLS:                v.GetBool("forward.smtp.tls"),
				StartTLS:           v.GetBool("forward.smtp.starttls"),
				InsecureSkipVerify: v.GetBool("forward.smtp.insecure_skip_verify"),
				Username:           v.GetString("forward.smtp.username"),
				Password:           v.GetString("forward.smtp.password"),
				Sender:             v.GetString("forward.smtp.sender"),
			},
			SES: ForwardSESConfig{
				Region:          v.GetString("forward.ses.region"),
				AccessKeyID:     v.GetString("forward.ses.access_key_id"),
				SecretAccessKey: v.GetString("forward.ses.secret_access_key"),
				Sender:          v.GetString("forward.ses.sender"),
			},
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: v.GetString("jwt.issuer"),
			Expiry: jwtExpiry,
		},
		Domain: v.GetString("domain"),
		Debug:  v.GetBool("debug"),
	}

	return cfg, nil
}

// Validate 检查运行服务器所必需的配置项
//
// Load 本身不要求这些字段，命令行工具只需要其中一部分。
func (c *Config) Validate() error {
	if err := c.ValidateBot(); err != nil {
		return err
	}
	if len(c.Telegram.ChatIDs) == 0 {
		return fmt.Errorf("telegram.id must not be empty")
	}
	if c.Storage.Type == "sql" || c.Storage.Type == "pgx" {
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for storage.type=%s", c.Storage.Type)
		}
	}
	if c.Forward.Type == "smtp" && len(c.Mail.ForwardList) > 0 && c.Forward.SMTP.Addr == "" {
		return fmt.Errorf("forward.smtp.addr is required when mail.forward_list is set")
	}
	return nil
}

// ValidateBot 检查注册 webhook 所需的令牌和域名
func (c *Config) ValidateBot() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	return nil
}

// HasBlockPolicy 报告 block_policy 是否包含指定策略
func (c MailConfig) HasBlockPolicy(policy string) bool {
	for _, p := range c.BlockPolicy {
		if p == policy {
			return true
		}
	}
	return false
}

// parseJSONList 解析名单配置
//
// 优先按 JSON 字符串数组解析，失败时退回到逗号分隔格式。
//
// 参数:
//   - value: `["a@b.com", ".*@x\\.com"]` 或 "a@b.com,c@d.com"
//
// 返回值:
//   - []string: 解析后的条目
func parseJSONList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []string
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, item := range items {
				if s := strings.TrimSpace(item); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return parseList(trimmed)
}

// parseLowerList 将逗号分隔的字符串解析为小写字符串切片
func parseLowerList(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在则静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

// ChatIDList 返回数值形式的管理员会话 ID，Load 已保证格式合法
func (c TelegramConfig) ChatIDList() []int64 {
	ids := make([]int64, 0, len(c.ChatIDs))
	for _, s := range c.ChatIDs {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsAdmin 报告 id 是否在管理员列表中
func (c TelegramConfig) IsAdmin(id int64) bool {
	for _, admin := range c.ChatIDList() {
		if admin == id {
			return true
		}
	}
	return false
}
