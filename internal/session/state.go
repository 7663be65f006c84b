package session

// State WhatsApp会话状态
type State int

const (
	StateDisconnected State = iota // 初始态；注销后的终态
	StateAuthenticating            // 已发出QR配对挑战，等待外部扫码
	StateConnected                 // 已连接，可发送
	StateReconnecting              // 传输层可重连断开，正在重建
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// EventKind 会话事件类型（传输层连接事件 + 内部探测事件）
type EventKind int

const (
	EventQR              EventKind = iota // 配对挑战已生成
	EventCredentials                      // 凭据更新（配对成功或刷新）
	EventOpen                             // 连接已建立
	EventClosedReconnect                  // 连接关闭，可重连
	EventClosedLoggedOut                  // 连接关闭，已被注销（不自动重试）
	EventProbeFailed                      // 保活探测失败
)

// Event 会话事件
type Event struct {
	Kind        EventKind
	QR          string // EventQR 时有效
	Credentials []byte // EventCredentials 时有效
}

// Action 状态转移的副作用（由会话对象执行，状态机本身保持纯函数）
type Action int

const (
	ActionClearQR         Action = iota // 清除待扫的配对挑战
	ActionReconnect                     // 立即重新初始化连接
	ActionSaveCredentials               // 持久化凭据
	ActionDropCredentials               // 丢弃持久化凭据
)

// Apply 纯状态转移函数：(当前状态, 事件) → (下一状态, 副作用)。
// 独立于真实传输层，可直接做表驱动测试。
func Apply(current State, ev Event) (State, []Action) {
	switch ev.Kind {
	case EventQR:
		// 任何状态下收到新挑战都意味着在等待扫码
		return StateAuthenticating, nil

	case EventCredentials:
		return current, []Action{ActionSaveCredentials}

	case EventOpen:
		return StateConnected, []Action{ActionClearQR}

	case EventClosedReconnect:
		return StateReconnecting, []Action{ActionReconnect}

	case EventClosedLoggedOut:
		// 对端注销：不自动重试，本地凭据已失效
		return StateDisconnected, []Action{ActionDropCredentials}

	case EventProbeFailed:
		if current == StateConnected {
			return StateDisconnected, []Action{ActionReconnect}
		}
		return current, nil

	default:
		return current, nil
	}
}
