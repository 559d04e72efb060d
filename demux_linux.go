//go:build linux

package reactor

const defaultBackend = BackendEpoll

var backendFactories = map[Backend]func() (demultiplexer, error){
	BackendSelect: newSelectDemux,
	BackendPoll:   newPollDemux,
	BackendEpoll:  newEpollDemux,
}
