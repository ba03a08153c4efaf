package lifecycle

import "context"

type automatedKey struct{}

// WithAutomated marks mutations made with ctx as performed by the system
// rather than a person
func WithAutomated(ctx context.Context) context.Context {
	return context.WithValue(ctx, automatedKey{}, true)
}

// IsAutomated reports whether ctx was marked with WithAutomated
func IsAutomated(ctx context.Context) bool {
	automated, _ := ctx.Value(automatedKey{}).(bool)
	return automated
}
