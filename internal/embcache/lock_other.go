//go:build !unix && !windows

package embcache

import "os"

// No advisory locking here; a single writer per log is assumed.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
