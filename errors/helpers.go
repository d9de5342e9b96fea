package errors

// Wrap wraps err with consistent Op and Component propagation.
// If err is nil, returns nil. If err is already a SyncError its Kind and
// retryability are preserved.
func Wrap(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	wrapped := E(op, Component(component), err)
	if inner, ok := err.(*SyncError); ok {
		wrapped.Kind = inner.Kind
		wrapped.Retryable = inner.Retryable
	}
	return wrapped
}

// WrapKind wraps err with Op, Component, and an explicit Kind.
// If err is nil, returns nil.
func WrapKind(err error, op Operation, component string, kind Kind) error {
	if err == nil {
		return nil
	}
	return E(op, Component(component), kind, err)
}
