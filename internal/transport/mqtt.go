package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"edufocus-notify/internal/session"
)

// Config MQTT网桥配置
type Config struct {
	Broker             string
	ClientIDBase       string
	Username           string
	Password           string
	QoS                byte
	CommandTopicFormat string // 如 "whatsapp/school/%d/cmd"
	EventTopicFormat   string // 如 "whatsapp/school/%d/event"
}

// command 发往网桥的命令
type command struct {
	Action      string `json:"action"` // connect, send, ping, logout
	ID          string `json:"id,omitempty"`
	Credentials []byte `json:"credentials,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// bridgeEvent 网桥推送的事件
type bridgeEvent struct {
	Type        string `json:"type"` // qr, credentials, open, closed, ack
	QR          string `json:"qr,omitempty"`
	Credentials []byte `json:"credentials,omitempty"`
	Reconnect   bool   `json:"reconnect,omitempty"`
	ID          string `json:"id,omitempty"`
	Success     bool   `json:"success,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Bridge 通过MQTT与外部WhatsApp网关通信的传输层适配器。
// 网关负责真正的WhatsApp协议；这里只做命令下发和事件上报的桥接，
// send/ping 通过消息ID与 ack 事件关联。
type Bridge struct {
	schoolID int64
	client   mqtt.Client
	qos      byte
	cmdTopic string
	evtTopic string
	logger   *zap.Logger

	mu      sync.Mutex
	handler func(session.Event)
	pending map[string]chan bridgeEvent
}

var _ session.Transport = (*Bridge)(nil)

// NewBridge 创建网桥适配器并订阅该学校的事件主题
func NewBridge(cfg Config, schoolID int64, logger *zap.Logger) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%d", cfg.ClientIDBase, schoolID))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	b := &Bridge{
		schoolID: schoolID,
		client:   client,
		qos:      cfg.QoS,
		cmdTopic: fmt.Sprintf(cfg.CommandTopicFormat, schoolID),
		evtTopic: fmt.Sprintf(cfg.EventTopicFormat, schoolID),
		logger:   logger,
		pending:  make(map[string]chan bridgeEvent),
	}

	if token := client.Subscribe(b.evtTopic, b.qos, b.onMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.evtTopic, token.Error())
	}

	return b, nil
}

// NewFactory 返回会话注册表使用的传输层工厂
func NewFactory(cfg Config, logger *zap.Logger) session.TransportFactory {
	return func(schoolID int64) (session.Transport, error) {
		return NewBridge(cfg, schoolID, logger)
	}
}

// SetEventHandler 注册连接事件回调
func (b *Bridge) SetEventHandler(handler func(session.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// Connect 下发连接命令；连接结果通过 open/qr 事件异步上报
func (b *Bridge) Connect(ctx context.Context, credentials []byte) error {
	return b.publish(ctx, command{Action: "connect", Credentials: credentials})
}

// Send 发送消息并等待网桥确认
func (b *Bridge) Send(ctx context.Context, recipient string, payload []byte) error {
	id := uuid.New().String()
	ack := b.register(id)
	defer b.unregister(id)

	cmd := command{
		Action:    "send",
		ID:        id,
		Recipient: recipient,
		Payload:   string(payload),
	}
	if err := b.publish(ctx, cmd); err != nil {
		return err
	}

	return b.awaitAck(ctx, ack)
}

// Ping 存活探测：网桥对 ping 命令回 ack
func (b *Bridge) Ping(ctx context.Context) error {
	id := uuid.New().String()
	ack := b.register(id)
	defer b.unregister(id)

	if err := b.publish(ctx, command{Action: "ping", ID: id}); err != nil {
		return err
	}
	return b.awaitAck(ctx, ack)
}

// Logout 优雅注销
func (b *Bridge) Logout(ctx context.Context) error {
	return b.publish(ctx, command{Action: "logout"})
}

// Close 释放MQTT连接，不注销WhatsApp凭据
func (b *Bridge) Close() {
	b.client.Unsubscribe(b.evtTopic)
	b.client.Disconnect(250)
}

// onMessage 网桥事件入口：ack 按ID路由，其余映射为会话事件
func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var ev bridgeEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		b.logger.Warn("invalid bridge event",
			zap.Int64("school_id", b.schoolID),
			zap.Error(err),
		)
		return
	}

	if ev.Type == "ack" {
		b.mu.Lock()
		ch, ok := b.pending[ev.ID]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- ev:
			default:
			}
		}
		return
	}

	sessionEv, ok := mapEvent(ev)
	if !ok {
		b.logger.Debug("ignoring unknown bridge event",
			zap.Int64("school_id", b.schoolID),
			zap.String("type", ev.Type),
		)
		return
	}

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(sessionEv)
	}
}

// mapEvent 网桥事件 → 会话事件
func mapEvent(ev bridgeEvent) (session.Event, bool) {
	switch ev.Type {
	case "qr":
		return session.Event{Kind: session.EventQR, QR: ev.QR}, true
	case "credentials":
		return session.Event{Kind: session.EventCredentials, Credentials: ev.Credentials}, true
	case "open":
		return session.Event{Kind: session.EventOpen}, true
	case "closed":
		if ev.Reconnect {
			return session.Event{Kind: session.EventClosedReconnect}, true
		}
		return session.Event{Kind: session.EventClosedLoggedOut}, true
	default:
		return session.Event{}, false
	}
}

func (b *Bridge) publish(ctx context.Context, cmd command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge command: %w", err)
	}

	token := b.client.Publish(b.cmdTopic, b.qos, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.cmdTopic, err)
	}
	return nil
}

func (b *Bridge) register(id string) chan bridgeEvent {
	ch := make(chan bridgeEvent, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	return ch
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) awaitAck(ctx context.Context, ack chan bridgeEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-ack:
		if !ev.Success {
			return fmt.Errorf("bridge rejected command: %s", ev.Error)
		}
		return nil
	}
}

// waitToken 等待MQTT token，尊重上下文超时
func waitToken(ctx context.Context, token mqtt.Token) error {
	if deadline, ok := ctx.Deadline(); ok {
		if !token.WaitTimeout(time.Until(deadline)) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return context.DeadlineExceeded
		}
	} else {
		token.Wait()
	}
	return token.Error()
}
