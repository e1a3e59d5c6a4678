// Package postgres 基于 pgx 连接池的存储实现
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/feed"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/store"
	"sudooom.hrchat/internal/store/idgen"
	"sudooom.hrchat/migrations"
)

// PostgreSQL 错误码
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

const conversationColumns = `id, employee_key, hr_name, employee_name, last_message_preview, last_activity_at`
const messageColumns = `id, conversation_id, sender_id, text, attachments, sent_at`

// Store PostgreSQL 存储
//
// 使用 postgres 通知源时变更事件由触发器发出，emitter 传 nil；
// 使用 nats / redis 通知源时由 Store 在写入成功后调用 emitter。
type Store struct {
	db      *pgxpool.Pool
	ids     *idgen.Node
	emitter feed.Emitter
	logger  *slog.Logger
}

// NewPool 按配置创建连接池
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// New 创建存储
func New(db *pgxpool.Pool, nodeID int64, emitter feed.Emitter) *Store {
	return &Store{
		db:      db,
		ids:     idgen.NewNode(nodeID),
		emitter: emitter,
		logger:  slog.Default(),
	}
}

var _ store.Store = (*Store)(nil)

// EnsureSchema 执行内嵌的建表脚本，channel 为触发器使用的 NOTIFY 频道
func (s *Store) EnsureSchema(ctx context.Context, channel string) error {
	scripts, err := migrations.Scripts()
	if err != nil {
		return err
	}
	for _, sql := range scripts {
		if channel != "" {
			sql = strings.ReplaceAll(sql, "'hrchat_changes'", "'"+strings.ReplaceAll(channel, "'", "")+"'")
		}
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("postgres: apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) emit(ctx context.Context, ev model.ChangeEvent) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, ev)
	}
}

// Provision 开通会话
func (s *Store) Provision(ctx context.Context, employeeKey, hrName, employeeName string) (*model.Conversation, error) {
	query := `
		INSERT INTO conversations (id, employee_key, hr_name, employee_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_key) DO NOTHING
		RETURNING ` + conversationColumns

	conv, err := scanConversation(s.db.QueryRow(ctx, query, s.ids.NextString(), employeeKey, hrName, employeeName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEmployeeKeyExists
		}
		return nil, err
	}

	s.logger.Info("Conversation provisioned", "conversationId", conv.ID, "employeeKey", employeeKey)
	s.emit(ctx, model.NewConversationUpserted(conv.Clone()))
	return conv, nil
}

// FindByEmployeeKey 按员工 key 查找会话
func (s *Store) FindByEmployeeKey(ctx context.Context, key string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE employee_key = $1`
	return s.findOne(ctx, query, key)
}

// FindByID 按会话 ID 查找
func (s *Store) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return s.findOne(ctx, query, id)
}

func (s *Store) findOne(ctx context.Context, query, arg string) (*model.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return conv, nil
}

// ListAll 返回全部会话，最近活动的在前
func (s *Store) ListAll(ctx context.Context) ([]model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY last_activity_at DESC NULLS LAST, employee_key ASC
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// UpdateLastActivityIfNewer 单条条件 UPDATE 完成比较和写入
func (s *Store) UpdateLastActivityIfNewer(ctx context.Context, id, preview string, at time.Time) (bool, error) {
	query := `
		UPDATE conversations
		SET last_message_preview = $2, last_activity_at = $3
		WHERE id = $1 AND (last_activity_at IS NULL OR last_activity_at < $3)
		RETURNING ` + conversationColumns

	conv, err := scanConversation(s.db.QueryRow(ctx, query, id, preview, at))
	if err == nil {
		s.emit(ctx, model.NewConversationUpserted(conv))
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	// 没有行被更新：会话不存在，或已有更新的活动时间
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

// Append 追加消息
func (s *Store) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	saved := msg.Clone()
	if saved.ID == "" {
		saved.ID = s.ids.NextString()
	}
	if saved.Attachments == nil {
		saved.Attachments = []model.Attachment{}
	}
	attachments, err := json.Marshal(saved.Attachments)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, text, attachments, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.Exec(ctx, query,
		saved.ID,
		saved.ConversationID,
		saved.SenderID,
		saved.Text,
		attachments,
		saved.SentAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgForeignKeyViolation:
				return nil, store.ErrNotFound
			case pgUniqueViolation:
				return nil, fmt.Errorf("postgres: duplicate message id %s: %w", saved.ID, err)
			}
		}
		return nil, err
	}

	s.emit(ctx, model.NewMessageAppended(saved.Clone()))
	return saved, nil
}

// ListByConversation 返回会话消息，按发送时间升序
func (s *Store) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC, id ASC
	`
	rows, err := s.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// FindMessageByID 按消息 ID 查找
func (s *Store) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close 关闭连接池
func (s *Store) Close() {
	s.db.Close()
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		conv model.Conversation
		at   *time.Time
	)
	err := row.Scan(
		&conv.ID,
		&conv.EmployeeKey,
		&conv.ParticipantNames[model.ParticipantHR],
		&conv.ParticipantNames[model.ParticipantEmployee],
		&conv.LastMessagePreview,
		&at,
	)
	if err != nil {
		return nil, err
	}
	if at != nil {
		utc := at.UTC()
		conv.LastActivityAt = &utc
	}
	return &conv, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg         model.Message
		attachments []byte
	)
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Text,
		&attachments,
		&msg.SentAt,
	)
	if err != nil {
		return nil, err
	}
	msg.SentAt = msg.SentAt.UTC()
	msg.Attachments = []model.Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("postgres: decode attachments of %s: %w", msg.ID, err)
		}
	}
	return &msg, nil
}
