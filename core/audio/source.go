package audio

// Tap receives mono samples in [-1, 1] as they are rendered or captured.
type Tap func(samples []float64)

// Source is anything whose audio can be routed into an analyzer while it is
// heard (or captured).
//
// Connect starts delivering samples to tap. Disconnect stops delivery and, for
// output sources, silences the source before returning. Both must be safe to
// call more than once.
type Source interface {
	Connect(tap Tap)
	Disconnect()
}
