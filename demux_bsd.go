//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

const defaultBackend = BackendKqueue

var backendFactories = map[Backend]func() (demultiplexer, error){
	BackendSelect: newSelectDemux,
	BackendPoll:   newPollDemux,
	BackendKqueue: newKqueueDemux,
}
