// Package sqlite 提供基于 SQLite 的事件存储实现
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "evoq/errors"
	"evoq/eventing"
	"evoq/eventing/store"
	"evoq/logging"
)

// SQLiteEventStore 基于 SQLite 的事件存储
//
// 版本检查与事件插入在同一事务内完成，配合 (stream_id, version) 唯一约束
// 实现乐观锁：即使两个进程同时通过版本检查，唯一约束也会拒绝后写者。
type SQLiteEventStore struct {
	db        *sql.DB
	tableName string
	logger    logging.ILogger
}

// Config SQLite 事件存储配置
type Config struct {
	// DSN 数据源，例如 "file:events.db" 或 "file::memory:?cache=shared"
	DSN string

	// TableName 事件表名，默认 "event_store"
	TableName string

	// Logger 组件级 logger，为空时基于全局 Logger 派生
	Logger logging.ILogger
}

// New 打开数据库并初始化事件表
func New(cfg Config) (*SQLiteEventStore, error) {
	if cfg.DSN == "" {
		return nil, apperrors.NewError(apperrors.ErrCodeInvalidInput, "sqlite dsn cannot be empty")
	}
	if cfg.TableName == "" {
		cfg.TableName = "event_store"
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeDatabase, "open sqlite database failed")
	}
	s := &SQLiteEventStore{
		db:        db,
		tableName: cfg.TableName,
		logger:    cfg.Logger,
	}
	if s.logger == nil {
		s.logger = logging.ComponentLogger("eventing.store.sqlite")
	}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) init(ctx context.Context) error {
	schema := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		stream_id      TEXT    NOT NULL,
		version        INTEGER NOT NULL,
		id             TEXT    NOT NULL,
		type           TEXT    NOT NULL,
		aggregate_type TEXT    NOT NULL,
		aggregate_id   TEXT    NOT NULL,
		timestamp      TEXT    NOT NULL,
		payload        TEXT    NOT NULL,
		metadata       TEXT    NOT NULL,
		PRIMARY KEY (stream_id, version)
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeDatabase, "create event table failed")
	}
	return nil
}

// Close 关闭底层数据库连接
func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

// AppendEvents 在单个事务内完成版本检查与事件插入
func (s *SQLiteEventStore) AppendEvents(ctx context.Context, streamID string, events []*eventing.Event, expectedVersion uint64) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventing.NewStoreFailedError("begin transaction failed", err)
	}
	defer tx.Rollback()

	currentVersion, err := s.streamVersionTx(ctx, tx, streamID)
	if err != nil {
		return eventing.NewStoreFailedError("query current version failed", err)
	}
	if currentVersion != expectedVersion {
		return eventing.NewConcurrencyError(streamID, expectedVersion, currentVersion)
	}

	insertSQL := `INSERT INTO ` + s.tableName +
		` (stream_id, version, id, type, aggregate_type, aggregate_id, timestamp, payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i, e := range events {
		if err := e.Validate(); err != nil {
			return eventing.NewInvalidEventError("event validation failed", err)
		}
		expectedEventVersion := expectedVersion + uint64(i) + 1
		if e.Version != expectedEventVersion {
			return eventing.NewInvalidEventError("event version not sequential", nil)
		}

		payloadJSON, err := json.Marshal(e.Payload)
		if err != nil {
			return eventing.NewInvalidEventError("serialize payload failed", err)
		}
		metadataJSON, err := json.Marshal(e.GetMetadata())
		if err != nil {
			return eventing.NewInvalidEventError("serialize metadata failed", err)
		}

		if _, err := tx.ExecContext(ctx, insertSQL,
			streamID, e.Version, e.ID, e.Type, e.AggregateType, e.AggregateID,
			e.Timestamp.UTC().Format(time.RFC3339Nano), string(payloadJSON), string(metadataJSON),
		); err != nil {
			// (stream_id, version) 主键冲突说明有并发写入者抢先通过了版本检查
			if isUniqueViolation(err) {
				return eventing.NewConcurrencyError(streamID, expectedVersion, e.Version)
			}
			return eventing.NewStoreFailedError("insert event failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return eventing.NewStoreFailedError("commit transaction failed", err)
	}
	s.logger.Debug(ctx, "events appended",
		logging.String("stream_id", streamID),
		logging.Int("event_count", len(events)))
	return nil
}

// ReadForward 按版本号升序读取流内全部事件
func (s *SQLiteEventStore) ReadForward(ctx context.Context, streamID string) ([]*eventing.Event, error) {
	querySQL := `SELECT version, id, type, aggregate_type, aggregate_id, timestamp, payload, metadata
		FROM ` + s.tableName + ` WHERE stream_id = ? ORDER BY version ASC`

	rows, err := s.db.QueryContext(ctx, querySQL, streamID)
	if err != nil {
		return nil, eventing.NewStoreFailedError("query events failed", err)
	}
	defer rows.Close()

	res := make([]*eventing.Event, 0)
	for rows.Next() {
		var (
			e            eventing.Event
			ts           string
			payloadJSON  string
			metadataJSON string
		)
		if err := rows.Scan(&e.Version, &e.ID, &e.Type, &e.AggregateType, &e.AggregateID, &ts, &payloadJSON, &metadataJSON); err != nil {
			return nil, eventing.NewStoreFailedError("scan event row failed", err)
		}
		e.StreamID = streamID
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, eventing.NewStoreFailedError("parse event timestamp failed", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, eventing.NewStoreFailedError("deserialize payload failed", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
			return nil, eventing.NewStoreFailedError("deserialize metadata failed", err)
		}
		res = append(res, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, eventing.NewStoreFailedError("iterate event rows failed", err)
	}
	return res, nil
}

// HasStream 检查事件流是否存在
func (s *SQLiteEventStore) HasStream(ctx context.Context, streamID string) (bool, error) {
	version, err := s.StreamVersion(ctx, streamID)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// StreamVersion 返回事件流当前版本
func (s *SQLiteEventStore) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	var version sql.NullInt64
	querySQL := `SELECT MAX(version) FROM ` + s.tableName + ` WHERE stream_id = ?`
	if err := s.db.QueryRowContext(ctx, querySQL, streamID).Scan(&version); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eventing.NewStoreFailedError("query stream version failed", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return uint64(version.Int64), nil
}

func (s *SQLiteEventStore) streamVersionTx(ctx context.Context, tx *sql.Tx, streamID string) (uint64, error) {
	var version sql.NullInt64
	querySQL := `SELECT MAX(version) FROM ` + s.tableName + ` WHERE stream_id = ?`
	if err := tx.QueryRowContext(ctx, querySQL, streamID).Scan(&version); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return uint64(version.Int64), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite 将约束冲突以文本形式暴露，匹配标准错误消息
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

// 确认实现接口
var (
	_ store.IEventStore      = (*SQLiteEventStore)(nil)
	_ store.IStreamInspector = (*SQLiteEventStore)(nil)
)
