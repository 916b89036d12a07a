package ofconn

// interest is the readiness a switch socket is registered for
type interest uint8

const (
	readable interest = 1 << iota
	writable
)

// Sharder picks the worker that owns a connection. seq is the connection's
// accept sequence number, starting at zero. The result is taken modulo workers.
type Sharder func(seq uint64, workers int) int

// ModuloSharder spreads connections round robin over the workers
func ModuloSharder(seq uint64, workers int) int {
	return int(seq % uint64(workers))
}
