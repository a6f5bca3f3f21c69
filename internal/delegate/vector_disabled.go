//go:build !vector

package delegate

func newVector() Delegate {
	return nil
}
