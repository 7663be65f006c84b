package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"edufocus-notify/common/database"
)

// ErrInvalidTenant 租户标识不是正整数
var ErrInvalidTenant = errors.New("invalid tenant id")

// Router 多租户存储路由：一个系统库 + 每个学校一个独立数据库。
// 学校库按需创建并初始化结构，句柄在进程生命周期内缓存。
// 同一租户的首次访问由租户级互斥锁保护，不会重复建库或重复初始化结构；
// 已创建句柄上的读写不在此层加锁，并发语义交给存储自身保证。
type Router struct {
	cfg    database.Config
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	global  *sql.DB
	schools map[int64]*sql.DB
	creates map[int64]*sync.Mutex

	// 测试替换点：打开连接
	open func(cfg *database.Config) (*sql.DB, error)
}

// NewRouter 创建存储路由
func NewRouter(cfg database.Config, prefix string, logger *zap.Logger) *Router {
	return &Router{
		cfg:     cfg,
		prefix:  prefix,
		logger:  logger,
		schools: make(map[int64]*sql.DB),
		creates: make(map[int64]*sync.Mutex),
		open:    database.NewPostgresDB,
	}
}

// SchoolDBName 学校数据库名（由租户ID确定，任何进程解析结果一致）
func (r *Router) SchoolDBName(schoolID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, schoolID)
}

// Global 返回系统库句柄，首次调用时初始化结构（幂等）
func (r *Router) Global(ctx context.Context) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.global != nil {
		return r.global, nil
	}

	db, err := r.open(&r.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open system database: %w", err)
	}
	if err := InitSystemSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	r.global = db
	r.logger.Info("system database ready",
		zap.String("database", r.cfg.Database),
	)
	return db, nil
}

// ForSchool 返回学校库句柄，首次访问时建库并初始化结构
func (r *Router) ForSchool(ctx context.Context, schoolID int64) (*sql.DB, error) {
	if schoolID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTenant, schoolID)
	}

	// 快路径：句柄已缓存
	r.mu.Lock()
	if db, ok := r.schools[schoolID]; ok {
		r.mu.Unlock()
		return db, nil
	}
	// 租户级创建锁（不持有 r.mu 建库，避免阻塞其他租户）
	createMu, ok := r.creates[schoolID]
	if !ok {
		createMu = &sync.Mutex{}
		r.creates[schoolID] = createMu
	}
	r.mu.Unlock()

	createMu.Lock()
	defer createMu.Unlock()

	// 拿到创建锁后复查：可能已被并发的首次访问创建
	r.mu.Lock()
	if db, ok := r.schools[schoolID]; ok {
		r.mu.Unlock()
		return db, nil
	}
	r.mu.Unlock()

	db, err := r.createSchoolDB(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schools[schoolID] = db
	r.mu.Unlock()

	r.logger.Info("school database ready",
		zap.Int64("school_id", schoolID),
		zap.String("database", r.SchoolDBName(schoolID)),
	)
	return db, nil
}

// createSchoolDB 创建并初始化学校库
func (r *Router) createSchoolDB(ctx context.Context, schoolID int64) (*sql.DB, error) {
	admin, err := r.Global(ctx)
	if err != nil {
		return nil, err
	}

	name := r.SchoolDBName(schoolID)

	// CREATE DATABASE 不支持 IF NOT EXISTS，重复建库（42P04）视为已存在
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != "42P04" {
			return nil, fmt.Errorf("failed to create school database %s: %w", name, err)
		}
	}

	schoolCfg := r.cfg.WithDatabase(name)
	db, err := r.open(&schoolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open school database %s: %w", name, err)
	}
	if err := InitSchoolSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Close 关闭所有缓存的句柄
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, db := range r.schools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.schools, id)
	}
	if r.global != nil {
		if err := r.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.global = nil
	}
	return firstErr
}
