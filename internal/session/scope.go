package session

// Scope restricts which sessions an observer may see. The zero value is
// unrestricted. A scope bound to a user ID only passes sessions belonging
// to that user; everything else is silently dropped for that observer.
type Scope struct {
	UserID string
}

// Unrestricted returns a scope that sees every session.
func Unrestricted() Scope {
	return Scope{}
}

// SelfOnly returns a scope bound to a single worker identity.
func SelfOnly(userID string) Scope {
	return Scope{UserID: userID}
}

// IsNoop reports whether the scope passes everything through.
func (s Scope) IsNoop() bool {
	return s.UserID == ""
}

// Allows reports whether a session owned by userID is visible in this scope.
func (s Scope) Allows(userID string) bool {
	return s.UserID == "" || s.UserID == userID
}

// FilterSlice returns a new slice containing only the records visible in
// this scope. The original slice is not modified.
func (s Scope) FilterSlice(records []*Record) []*Record {
	if s.IsNoop() {
		return records
	}
	result := make([]*Record, 0, len(records))
	for _, r := range records {
		if s.Allows(r.UserID) {
			result = append(result, r)
		}
	}
	return result
}
