package elective

import "time"

// SetNowFunc overrides the service clock; the returned func restores it.
func SetNowFunc(f func() time.Time) (reset func()) {
	nowFunc = f
	return func() { nowFunc = time.Now }
}
