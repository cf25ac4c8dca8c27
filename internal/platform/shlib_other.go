//go:build !darwin && !(linux && (amd64 || arm64))

package platform

var native = &unsupportedPlatform{}

// Native returns the dlopen-based platform. On this system it fails every Open.
func Native() Platform {
	return native
}

type unsupportedPlatform struct{}

func (*unsupportedPlatform) Name() string { return "native" }

func (*unsupportedPlatform) Open(path string) (Library, error) {
	return nil, &OpenError{Path: path, Err: ErrUnsupported}
}

func (*unsupportedPlatform) NewCallback(any) (uintptr, error) {
	return 0, ErrUnsupported
}
