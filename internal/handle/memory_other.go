//go:build !darwin && !freebsd && !linux

package handle

import (
	"errors"
	"os"
)

var pageSize = os.Getpagesize()

func mapBlock(int) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

func unmapBlock([]byte) error {
	return nil
}
