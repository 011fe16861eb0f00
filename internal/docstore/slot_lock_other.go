//go:build !unix

package docstore

import "os"

func lockFD(*os.File, bool) error { return nil }

func unlockFD(*os.File) error { return nil }
