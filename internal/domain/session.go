package domain

// Session is the persisted login state of the storefront. An empty UserID
// means an anonymous session.
type Session struct {
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	CartVersion int64  `json:"cart_version"`
}

func (s Session) Authenticated() bool {
	return s.UserID != "" && s.Token != ""
}
