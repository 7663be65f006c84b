package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// TransportFactory 为某个学校创建传输层适配器
type TransportFactory func(schoolID int64) (Transport, error)

// Registry 进程内的会话注册表（按学校ID），显式创建、显式销毁，
// 注入到分发器和接送队列，不做全局环境状态。
type Registry struct {
	factory TransportFactory
	creds   CredentialsStore
	timing  Timing
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
	creates  map[int64]*sync.Mutex
}

// NewRegistry 创建会话注册表
func NewRegistry(factory TransportFactory, creds CredentialsStore, timing Timing, logger *zap.Logger) *Registry {
	return &Registry{
		factory:  factory,
		creds:    creds,
		timing:   timing,
		logger:   logger,
		sessions: make(map[int64]*Session),
		creates:  make(map[int64]*sync.Mutex),
	}
}

// Get 获取某学校的会话，首次访问时创建、初始化并启动保活。
// 创建过程不持有注册表锁，一个租户的连接不会阻塞其他租户。
func (r *Registry) Get(ctx context.Context, schoolID int64) (*Session, error) {
	r.mu.Lock()
	if sess, ok := r.sessions[schoolID]; ok {
		r.mu.Unlock()
		return sess, nil
	}
	createMu, ok := r.creates[schoolID]
	if !ok {
		createMu = &sync.Mutex{}
		r.creates[schoolID] = createMu
	}
	r.mu.Unlock()

	createMu.Lock()
	defer createMu.Unlock()

	r.mu.Lock()
	if sess, ok := r.sessions[schoolID]; ok {
		r.mu.Unlock()
		return sess, nil
	}
	r.mu.Unlock()

	transport, err := r.factory(schoolID)
	if err != nil {
		return nil, err
	}

	sess := NewSession(schoolID, transport, r.creds, r.timing, r.logger)

	r.mu.Lock()
	r.sessions[schoolID] = sess
	r.mu.Unlock()

	// 首次连接异步进行：连接前的 Send 会收到 ErrSessionNotReady
	go func() {
		if err := sess.Initialize(context.Background()); err != nil {
			r.logger.Warn("initial whatsapp connect failed",
				zap.Int64("school_id", schoolID),
				zap.Error(err),
			)
		}
	}()
	sess.StartKeepAlive()

	return sess, nil
}

// Peek 只读获取会话（不创建）
func (r *Registry) Peek(schoolID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[schoolID]
	return sess, ok
}

// Deauthorize 显式注销某学校的会话并从注册表移除
func (r *Registry) Deauthorize(ctx context.Context, schoolID int64) error {
	r.mu.Lock()
	sess, ok := r.sessions[schoolID]
	delete(r.sessions, schoolID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return sess.Disconnect(ctx)
}

// Shutdown 进程退出：停止所有会话的保活并释放传输层（保留凭据）
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	r.logger.Info("session registry shut down")
}
