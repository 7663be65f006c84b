package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionNotReady 会话未连接，调用方自行决定重试策略（绝不静默排队）
var ErrSessionNotReady = errors.New("whatsapp session not ready")

// ErrSessionClosed 会话已被显式关闭/注销
var ErrSessionClosed = errors.New("whatsapp session closed")

// 环境变量会话种子（部署平台无持久盘时的恢复路径），值为 base64 编码的凭据
const envSessionFormat = "WHATSAPP_SESSION_SCHOOL_%d_BASE64"

// CredentialsStore 凭据持久化接口（repository.CredentialsRepository 实现）
type CredentialsStore interface {
	Load(ctx context.Context, schoolID int64) ([]byte, error)
	Save(ctx context.Context, schoolID int64, creds []byte) error
	Delete(ctx context.Context, schoolID int64) error
}

// Timing 会话时间参数
type Timing struct {
	KeepAliveInterval time.Duration // 保活检测间隔
	ConnectTimeout    time.Duration // 连接超时
	SendTimeout       time.Duration // 发送超时
	ProbeTimeout      time.Duration // 探测超时
	DisconnectWait    time.Duration // 注销时等待在途发送的上限
}

func (t *Timing) withDefaults() {
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = 2 * time.Minute
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = 30 * time.Second
	}
	if t.SendTimeout <= 0 {
		t.SendTimeout = 15 * time.Second
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = 10 * time.Second
	}
	if t.DisconnectWait <= 0 {
		t.DisconnectWait = 5 * time.Second
	}
}

// Session 单个学校的WhatsApp会话。
// 每个租户的会话完全独立：保活循环、重连风暴、注销都不影响其他租户。
type Session struct {
	schoolID  int64
	transport Transport
	creds     CredentialsStore
	timing    Timing
	logger    *zap.Logger

	mu     sync.Mutex
	state  State
	qr     string
	closed bool

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}
	sends           sync.WaitGroup
}

// NewSession 创建会话并注册传输层事件回调
func NewSession(schoolID int64, transport Transport, creds CredentialsStore, timing Timing, logger *zap.Logger) *Session {
	timing.withDefaults()

	s := &Session{
		schoolID:  schoolID,
		transport: transport,
		creds:     creds,
		timing:    timing,
		logger:    logger,
		state:     StateDisconnected,
	}
	transport.SetEventHandler(s.handleEvent)
	return s
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QRCode 待扫的配对挑战（无挑战时为空）
func (s *Session) QRCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

// Initialize 初始化连接：有凭据直接连，无凭据进入配对流程等待QR。
// 失败时停留在 Authenticating/Reconnecting，由保活循环继续尝试。
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	creds := s.loadCredentials(ctx)

	s.mu.Lock()
	if creds == nil && s.state != StateConnected {
		s.state = StateAuthenticating
	}
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.timing.ConnectTimeout)
	defer cancel()

	if err := s.transport.Connect(cctx, creds); err != nil {
		s.logger.Warn("whatsapp connect failed",
			zap.Int64("school_id", s.schoolID),
			zap.Error(err),
		)
		return fmt.Errorf("transport connect: %w", err)
	}
	return nil
}

// loadCredentials 先尝试环境变量种子（并落库），再读持久化凭据；都没有返回 nil
func (s *Session) loadCredentials(ctx context.Context) []byte {
	if encoded := os.Getenv(fmt.Sprintf(envSessionFormat, s.schoolID)); encoded != "" {
		if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			if err := s.creds.Save(ctx, s.schoolID, raw); err != nil {
				s.logger.Warn("failed to persist env session seed",
					zap.Int64("school_id", s.schoolID),
					zap.Error(err),
				)
			}
			return raw
		}
		s.logger.Warn("invalid base64 in env session seed",
			zap.Int64("school_id", s.schoolID),
		)
	}

	creds, err := s.creds.Load(ctx, s.schoolID)
	if err != nil {
		s.logger.Warn("failed to load whatsapp credentials",
			zap.Int64("school_id", s.schoolID),
			zap.Error(err),
		)
		return nil
	}
	return creds
}

// Send 发送消息；仅 Connected 状态允许，否则返回 ErrSessionNotReady
func (s *Session) Send(ctx context.Context, recipient string, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state=%s", ErrSessionNotReady, state)
	}
	s.sends.Add(1)
	s.mu.Unlock()
	defer s.sends.Done()

	sctx, cancel := context.WithTimeout(ctx, s.timing.SendTimeout)
	defer cancel()

	if err := s.transport.Send(sctx, recipient, payload); err != nil {
		return fmt.Errorf("transport send: %w", err)
	}
	return nil
}

// handleEvent 从传输层回调同步进入状态机，副作用在锁外执行
func (s *Session) handleEvent(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	next, actions := Apply(prev, ev)
	s.state = next
	if ev.Kind == EventQR {
		s.qr = ev.QR
	}
	s.mu.Unlock()

	if next != prev {
		s.logger.Info("whatsapp session state changed",
			zap.Int64("school_id", s.schoolID),
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
		)
	}

	for _, action := range actions {
		s.runAction(action, ev)
	}
}

func (s *Session) runAction(action Action, ev Event) {
	switch action {
	case ActionClearQR:
		s.mu.Lock()
		s.qr = ""
		s.mu.Unlock()

	case ActionSaveCredentials:
		ctx, cancel := context.WithTimeout(context.Background(), s.timing.ConnectTimeout)
		defer cancel()
		if err := s.creds.Save(ctx, s.schoolID, ev.Credentials); err != nil {
			s.logger.Error("failed to save whatsapp credentials",
				zap.Int64("school_id", s.schoolID),
				zap.Error(err),
			)
		}

	case ActionDropCredentials:
		ctx, cancel := context.WithTimeout(context.Background(), s.timing.ConnectTimeout)
		defer cancel()
		if err := s.creds.Delete(ctx, s.schoolID); err != nil {
			s.logger.Error("failed to drop whatsapp credentials",
				zap.Int64("school_id", s.schoolID),
				zap.Error(err),
			)
		}

	case ActionReconnect:
		// 异步重连，避免在传输层回调里递归连接
		go func() {
			if err := s.Initialize(context.Background()); err != nil {
				s.logger.Warn("reconnect failed",
					zap.Int64("school_id", s.schoolID),
					zap.Error(err),
				)
			}
		}()
	}
}

// StartKeepAlive 启动保活循环（每个会话一个，可取消）
func (s *Session) StartKeepAlive() {
	s.mu.Lock()
	if s.closed || s.keepAliveCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.keepAliveCancel = cancel
	s.keepAliveDone = done
	s.mu.Unlock()

	go s.keepAliveLoop(ctx, done)

	s.logger.Info("keep-alive started",
		zap.Int64("school_id", s.schoolID),
		zap.Duration("interval", s.timing.KeepAliveInterval),
	)
}

func (s *Session) keepAliveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.timing.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keep-alive stopped",
				zap.Int64("school_id", s.schoolID),
			)
			return
		case <-ticker.C:
			s.keepAliveTick(ctx)
		}
	}
}

// keepAliveTick 单次保活检测：未连接则重连，已连接则探测
func (s *Session) keepAliveTick(ctx context.Context) {
	if s.State() != StateConnected {
		if err := s.Initialize(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.logger.Warn("keep-alive reconnect failed",
				zap.Int64("school_id", s.schoolID),
				zap.Error(err),
			)
		}
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.timing.ProbeTimeout)
	defer cancel()

	if err := s.transport.Ping(pctx); err != nil {
		s.logger.Warn("keep-alive probe failed, reconnecting",
			zap.Int64("school_id", s.schoolID),
			zap.Error(err),
		)
		// 探测失败：降级为 Disconnected 并立即触发重连
		s.handleEvent(Event{Kind: EventProbeFailed})
	}
}

func (s *Session) stopKeepAlive() {
	s.mu.Lock()
	cancel := s.keepAliveCancel
	done := s.keepAliveDone
	s.keepAliveCancel = nil
	s.keepAliveDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// waitForSends 有界等待在途发送完成
func (s *Session) waitForSends() {
	waitDone := make(chan struct{})
	go func() {
		s.sends.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(s.timing.DisconnectWait):
		s.logger.Warn("abandoning in-flight sends",
			zap.Int64("school_id", s.schoolID),
		)
	}
}

// Disconnect 显式注销（破坏性操作）：停止保活、优雅登出、销毁持久化凭据。
// 与瞬时掉线不同，注销后不自动重连，重新配对需要新的会话。
func (s *Session) Disconnect(ctx context.Context) error {
	s.stopKeepAlive()
	s.waitForSends()

	s.mu.Lock()
	s.closed = true
	s.state = StateDisconnected
	s.qr = ""
	s.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, s.timing.ConnectTimeout)
	defer cancel()
	if err := s.transport.Logout(lctx); err != nil {
		// 登出失败只记录，不阻止凭据销毁
		s.logger.Warn("whatsapp logout failed",
			zap.Int64("school_id", s.schoolID),
			zap.Error(err),
		)
	}

	var credErr error
	if err := s.creds.Delete(ctx, s.schoolID); err != nil {
		s.logger.Error("failed to delete whatsapp credentials",
			zap.Int64("school_id", s.schoolID),
			zap.Error(err),
		)
		credErr = err
	}

	s.transport.Close()

	s.logger.Info("whatsapp session disconnected",
		zap.Int64("school_id", s.schoolID),
	)
	return credErr
}

// Close 进程退出时的清理：停止保活并释放传输层，但保留凭据供下次启动恢复
func (s *Session) Close() {
	s.stopKeepAlive()
	s.waitForSends()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.transport.Close()
}
