package exchange

// The engine tracks one implicit "current" session so clients written for a
// single-chat server can keep omitting the session id. The most recently
// started session wins.

func (e *Engine) setCurrent(id string) {
	e.currentMu.Lock()
	e.current = id
	e.currentMu.Unlock()
}

// Current returns the implicit session id, or "" if none was started.
func (e *Engine) Current() string {
	e.currentMu.RLock()
	defer e.currentMu.RUnlock()
	return e.current
}

// resolve maps an optional session id onto a live session. An explicit id
// that is unknown yields unknownCode; an omitted id with no current session
// yields noCurrentCode.
func (e *Engine) resolve(id string, unknownCode, noCurrentCode Code) (string, error) {
	if id != "" {
		if !e.registry.Exists(id) {
			return "", newError(unknownCode, "session "+id+" does not exist", nil)
		}
		return id, nil
	}

	id = e.Current()
	if id == "" || !e.registry.Exists(id) {
		return "", newError(noCurrentCode, "no active chat", nil)
	}
	return id, nil
}
