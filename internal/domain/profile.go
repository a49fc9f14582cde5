package domain

// Profile is the classifier's view of an account: the identity fields
// the detection heuristics are allowed to inspect, and nothing else.
type Profile struct {
	UserID      int64
	DisplayName string
	Username    string
	IsBot       bool
}
