package loader

// State is the lifecycle state of the content load controller.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateBlankCheck
	StateSucceeded
	StateFailed
	StateSwitchingToDefault
	// StateDegraded means the endpoint stayed blank after a forced reload.
	// Loading stops without a user-facing error.
	StateDegraded
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateLoading:            "loading",
	StateBlankCheck:         "blankCheck",
	StateSucceeded:          "succeeded",
	StateFailed:             "failed",
	StateSwitchingToDefault: "switchingToDefault",
	StateDegraded:           "degraded",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// switchPhase tracks blank-content repair while an endpoint switch settles.
// A forced reload can only be recorded while switching.
type switchPhase int

const (
	switchNone switchPhase = iota
	// switchPending: a new endpoint is loading and has not shown content yet.
	switchPending
	// switchForcedReload: the endpoint loaded blank once and was hard-reloaded.
	switchForcedReload
)

// Session is the load-state record of one content view instance.
type Session struct {
	// Target is the endpoint this session was created for.
	Target string
	// LastAttempted is the endpoint of the most recent load attempt.
	LastAttempted string
	// Attempts counts consecutive failures against LastAttempted.
	Attempts    int
	MaxAttempts int
	phase       switchPhase
}

func newSession(target string, maxAttempts int) *Session {
	return &Session{Target: target, MaxAttempts: maxAttempts}
}

// Switching reports whether the session is still settling an endpoint switch.
func (s *Session) Switching() bool {
	return s.phase != switchNone
}

// ForcedReload reports whether a blank-content hard reload was issued.
func (s *Session) ForcedReload() bool {
	return s.phase == switchForcedReload
}

// Status is a point-in-time view of the controller, safe to read from any goroutine.
type Status struct {
	State        string `json:"state"`
	IsLoading    bool   `json:"isLoading"`
	CurrentURL   string `json:"currentUrl"`
	Target       string `json:"target"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"maxAttempts"`
	Switching    bool   `json:"switching"`
	ForcedReload bool   `json:"forcedReload"`
}
