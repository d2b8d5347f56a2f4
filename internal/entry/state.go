package entry

// State 是一次 Entry 操作在状态机中的位置。
type State int

const (
	Unresolved State = iota
	CacheConsulted
	RemoteConsulted
	Resolved
	Aborted
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case CacheConsulted:
		return "cache_consulted"
	case RemoteConsulted:
		return "remote_consulted"
	case Resolved:
		return "resolved"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal 表示状态不会再迁移。
func (s State) Terminal() bool {
	return s == Resolved || s == Aborted
}
