package dedupe

// Option configures the in-memory deduper.
type Option func(*ringDeduper)

// WithMaxSize bounds how many keys are remembered. The oldest key is
// forgotten first. Non-positive values keep the default.
func WithMaxSize(maxSize int) Option {
	return func(d *ringDeduper) {
		if maxSize > 0 {
			d.maxSize = maxSize
		}
	}
}
