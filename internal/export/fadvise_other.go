//go:build !linux

package export

import "os"

func adviseSequential(*os.File) {}
