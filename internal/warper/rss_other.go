//go:build !linux

package warper

// processRSS is unavailable off Linux; the RSS budget check degrades to
// a no-op.
func processRSS(int) int64 { return 0 }
