package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/TBXark/mail2telegram/internal/storage"
)

// Entry 是 kv_entries 表中的一行
type Entry struct {
	Key       string     `gorm:"column:k;primaryKey;size:255"`
	Value     string     `gorm:"column:v"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
}

// TableName 固定表名，与 cmd/migrate 创建的表一致
func (Entry) TableName() string {
	return "kv_entries"
}

// Store SQL 数据库键值存储（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db     *sql.DB
	gormDB *gorm.DB
	now    func() time.Time
}

// NewStore 创建 SQL 数据库存储
//
// 参数:
//   - driverName: "mysql" 或 "postgres"
//   - dsn: 数据库连接字符串
//   - maxOpenConns / maxIdleConns / connMaxLifetime: 连接池参数
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	store, err := NewStoreWithDialector(dialector)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.db = db
	return store, nil
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储并自动迁移
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	db, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := gormDB.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		db:     db,
		gormDB: gormDB,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get 读取键值，过期的行按不存在处理
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var e Entry
	err := s.gormDB.WithContext(ctx).
		Where("k = ?", key).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Put 插入或覆盖键值
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	e := Entry{Key: key, Value: value}
	if ttl > 0 {
		expiresAt := s.now().Add(ttl)
		e.ExpiresAt = &expiresAt
	}
	return s.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v", "expires_at"}),
	}).Create(&e).Error
}

// Delete 删除键
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.gormDB.WithContext(ctx).Where("k = ?", key).Delete(&Entry{}).Error
}

// PurgeExpired 删除所有过期行
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.gormDB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Delete(&Entry{})
	return result.RowsAffected, result.Error
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ storage.KV     = (*Store)(nil)
	_ storage.Purger = (*Store)(nil)
)
