package session

// State 账号会话状态
type State int

const (
	NoSession State = iota
	AcquiringLock
	CheckingCookies
	AuthenticatedReuse // 终态: cookies 仍然有效
	NeedsLogin
	AwaitingVerificationCode
	LoggingIn
	CookiesCaptured
	Persisted // 终态: 新cookies已写入
)

var stateNames = [...]string{
	NoSession:                "NoSession",
	AcquiringLock:            "AcquiringLock",
	CheckingCookies:          "CheckingCookies",
	AuthenticatedReuse:       "AuthenticatedReuse",
	NeedsLogin:               "NeedsLogin",
	AwaitingVerificationCode: "AwaitingVerificationCode",
	LoggingIn:                "LoggingIn",
	CookiesCaptured:          "CookiesCaptured",
	Persisted:                "Persisted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Authenticated 是否处于可用的终态
func (s State) Authenticated() bool {
	return s == AuthenticatedReuse || s == Persisted
}

// Observer 状态迁移回调
type Observer func(phone string, from, to State)
