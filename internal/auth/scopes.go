package auth

// Scopes understood by the activity endpoints.
const (
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesRead  = "activities:read"
)

// CanWrite reports whether claims allow submitting responses.
func CanWrite(claims *Claims) bool {
	return claims != nil && claims.HasScope(ScopeActivitiesWrite)
}

// CanRead reports whether claims allow reading results. Write access
// implies read access.
func CanRead(claims *Claims) bool {
	return claims != nil && (claims.HasScope(ScopeActivitiesRead) || claims.HasScope(ScopeActivitiesWrite))
}
