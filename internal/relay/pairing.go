package relay

// TwoPartyPairing resolves the counterparty as the single other
// registered connection. With zero or more than one candidate there is
// no well-defined counterparty and messages are dropped.
func TwoPartyPairing(ids func() []string) PairFunc {
	return func(senderID string) (string, bool) {
		var other string
		for _, id := range ids() {
			if id == senderID {
				continue
			}
			if other != "" {
				return "", false
			}
			other = id
		}
		return other, other != ""
	}
}
