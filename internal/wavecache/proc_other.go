//go:build !linux

package wavecache

func processRSSBytes() (uint64, bool) { return 0, false }
