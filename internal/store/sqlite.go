package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"futures-strategist/internal/config"
)

// Store 封装策略流水数据库的 SQLite 连接。
// WAL 模式让流水写入不阻塞 OCO 轮询等读路径上的状态查询。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储。内存模式供测试使用，
// 此时连接池必须至少保留一个空闲连接，否则数据库随连接一起消失。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	if !cfg.InMemory {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("打开策略流水数据库失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("设置 SQLite 参数 %q 失败: %w", pragma, err)
		}
	}

	return &Store{db: conn}, nil
}

func dsn(cfg config.DatabaseConfig) string {
	path := cfg.Path
	if cfg.InMemory {
		path = ":memory:"
	}
	// busy_timeout 覆盖策略并发落盘时的写锁竞争。
	return fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}
