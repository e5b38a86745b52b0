//go:build nodsa

package dsa

// The nodsa tag strips device-side assertion tracking from the build. A
// Registry still constructs, but it stays disabled for its whole lifetime.
const builtWithAssertions = false
