package session

// State 会话管理器状态
//
//	Stopped ──Start──> Connecting ──dial ok + 注册完成──> Open
//	Connecting/Open ──close/dial 失败──> Closed ──reconnect_delay──> Connecting
//	任意状态 ──Stop──> Stopped
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status 只读快照，供本地状态接口展示
type Status struct {
	PCID      string `json:"pc_id"`
	State     string `json:"state"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"session_id"`
}
