package domain

// AuthResult is the outcome of a gateway call. Build it with Succeeded or Failed only.
type AuthResult struct {
	Identity *Identity
	Err      *AuthError
}

// Succeeded wraps a signed-in identity. A nil identity is reported as an internal failure.
func Succeeded(identity *Identity) AuthResult {
	if identity == nil {
		return Failed(NewAuthError(CodeInternal, "identity provider returned no identity"))
	}
	return AuthResult{Identity: identity}
}

// Failed wraps a provider failure. A nil error is reported as an internal failure.
func Failed(err error) AuthResult {
	authErr := AsAuthError(err)
	if authErr == nil {
		authErr = NewAuthError(CodeInternal, "identity provider returned neither identity nor error")
	}
	return AuthResult{Err: authErr}
}

// OK reports whether the call succeeded.
func (r AuthResult) OK() bool {
	return r.Err == nil && r.Identity != nil
}

// Error returns the failure as an error value, or nil on success.
func (r AuthResult) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}
