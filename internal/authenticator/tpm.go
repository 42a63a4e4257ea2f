package authenticator

import (
	"fmt"
	"runtime"

	"github.com/quantumauth-io/quantum-go-utils/tpmdevice"
)

// NewTPMSealer returns the device TPM sealer on platforms that have one.
func NewTPMSealer(ownerAuth string) (Sealer, error) {
	switch runtime.GOOS {
	case "linux", "windows":
		return tpmdevice.NewSealer(ownerAuth), nil
	case "darwin":
		return nil, fmt.Errorf("%w: macOS TPM backend not implemented", ErrUnavailable)
	default:
		return nil, fmt.Errorf("%w: unsupported platform %s", ErrUnavailable, runtime.GOOS)
	}
}
