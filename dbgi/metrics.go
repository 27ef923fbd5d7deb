package dbgi

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is used by default.
type Metrics interface {
	// Request counts a queued load request.
	Request(high bool)
	// Commit counts a finished load; ok is false when parsing failed.
	Commit(ok bool)
	// Evict counts a record removed after its last Close.
	Evict()
	// ConversionStart and ConversionDone bracket one converter subprocess.
	ConversionStart(threads int)
	ConversionDone(threads int)
	// Lookup counts a Lookup; hit means a loaded table was returned.
	Lookup(hit bool)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Request(bool)        {}
func (NoopMetrics) Commit(bool)         {}
func (NoopMetrics) Evict()              {}
func (NoopMetrics) ConversionStart(int) {}
func (NoopMetrics) ConversionDone(int)  {}
func (NoopMetrics) Lookup(bool)         {}

var _ Metrics = NoopMetrics{}
