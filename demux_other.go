//go:build unix && !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package reactor

const defaultBackend = BackendPoll

var backendFactories = map[Backend]func() (demultiplexer, error){
	BackendPoll: newPollDemux,
}
