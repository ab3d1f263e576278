package capture

import "golang.org/x/sys/unix"

// dup2 is expressed with dup3 because some linux ports lack dup2.
func dup2(oldfd, newfd int) error {
	return unix.Dup3(oldfd, newfd, 0)
}
