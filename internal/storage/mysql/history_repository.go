package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// TxRecord 表示一次链上操作的落库结构。
type TxRecord struct {
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
	TxHash      string `json:"tx_hash,omitempty"`
	RiskLevel   string `json:"risk_level,omitempty"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

// HistoryRepository 抽象操作历史的持久化接口。
type HistoryRepository interface {
	Save(ctx context.Context, record TxRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]TxRecord, error)
}

const memoryHistoryCap = 512

// MemoryHistoryRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []TxRecord
}

// NewMemoryHistoryRepository 创建一个内存历史仓库。
func NewMemoryHistoryRepository(dataDir string) (*MemoryHistoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "history.log")
	repo := &MemoryHistoryRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录操作历史。
func (m *MemoryHistoryRepository) Save(_ context.Context, record TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开历史日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入历史日志失败: %w", err)
	}

	m.records = append([]TxRecord{record}, m.records...)
	if len(m.records) > memoryHistoryCap {
		m.records = m.records[:memoryHistoryCap]
	}
	return nil
}

// ListBySession 返回指定会话最近的操作记录，按时间倒序排列。
// sessionID 为空时返回全部会话的记录。
func (m *MemoryHistoryRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []TxRecord
	for _, record := range m.records {
		if sessionID != "" && record.SessionID != sessionID {
			continue
		}
		results = append(results, record)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryHistoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取历史日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []TxRecord
	for scanner.Scan() {
		var record TxRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]TxRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析历史日志失败: %w", err)
	}

	if len(restored) > memoryHistoryCap {
		restored = restored[:memoryHistoryCap]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLHistoryRepository 使用真实的 MySQL 数据库存储操作历史。
type SQLHistoryRepository struct {
	db *sql.DB
}

// NewSQLHistoryRepository 创建连接池并初始化数据表。
func NewSQLHistoryRepository(dsn string) (*SQLHistoryRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	repo := &SQLHistoryRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *SQLHistoryRepository) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS tx_history (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        description TEXT NOT NULL,
        tx_hash VARCHAR(66) DEFAULT '',
        risk_level VARCHAR(16) DEFAULT '',
        status VARCHAR(32) DEFAULT '',
        created_at BIGINT NOT NULL,
        INDEX idx_session_created (session_id, created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化 tx_history 表失败: %w", err)
	}
	return nil
}

// Save 将操作记录写入 MySQL。
func (s *SQLHistoryRepository) Save(ctx context.Context, record TxRecord) error {
	const stmt = `INSERT INTO tx_history
        (session_id, description, tx_hash, risk_level, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.SessionID,
		record.Description,
		record.TxHash,
		record.RiskLevel,
		record.Status,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListBySession 查询指定会话最近的操作记录。
func (s *SQLHistoryRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]TxRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT session_id, description, tx_hash, risk_level, status, created_at
        FROM tx_history`
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询历史记录失败: %w", err)
	}
	defer rows.Close()

	var records []TxRecord
	for rows.Next() {
		var record TxRecord
		if err := rows.Scan(&record.SessionID, &record.Description, &record.TxHash, &record.RiskLevel, &record.Status, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析历史记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历历史记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLHistoryRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
