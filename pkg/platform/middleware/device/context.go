package device

import "context"

type contextKeyDeviceID struct{}
type contextKeyPlatform struct{}

// GetDeviceID retrieves the authenticated device identifier from the context.
func GetDeviceID(ctx context.Context) string {
	if deviceID, ok := ctx.Value(contextKeyDeviceID{}).(string); ok {
		return deviceID
	}
	return ""
}

// WithDeviceID injects a device identifier into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, contextKeyDeviceID{}, deviceID)
}

// GetPlatform retrieves the device platform derived from the User-Agent.
func GetPlatform(ctx context.Context) string {
	if p, ok := ctx.Value(contextKeyPlatform{}).(string); ok {
		return p
	}
	return ""
}

// WithPlatform injects a device platform into a context.
func WithPlatform(ctx context.Context, platform string) context.Context {
	return context.WithValue(ctx, contextKeyPlatform{}, platform)
}
