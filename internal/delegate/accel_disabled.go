//go:build !accel

package delegate

func newAccel() Delegate {
	return nil
}
