//go:build windows

package reactor

const defaultBackend = BackendIOCP

var backendFactories = map[Backend]func() (demultiplexer, error){
	BackendIOCP: newIOCPDemux,
}
