//go:build !nodsa

package dsa

// builtWithAssertions reports whether this binary was compiled with
// device-side assertion tracking. Build with -tags nodsa to strip it.
const builtWithAssertions = true
