//go:build !giouring || !linux

package ring

import (
	"github.com/ehrlich-b/go-uring/internal/interfaces"
)

// NewGiouringRing is available when built with -tags giouring
func NewGiouringRing(entries uint32) (interfaces.Engine, error) {
	return nil, NewError("setup", ErrCodeUnsupported, "giouring not enabled; build with -tags giouring")
}
