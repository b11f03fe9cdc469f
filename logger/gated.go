package logger

import (
	"bytes"
	"io"
	"sync"
)

// GateState represents the state of the log gate.
type GateState int

const (
	// GateClosed means logs are buffered but not written.
	GateClosed GateState = iota
	// GateOpen means logs flow through immediately.
	GateOpen
)

// GatedWriter is an io.Writer that buffers writes until its gate opens,
// then flushes the backlog and passes everything through. It lets the
// server keep startup logs out of the way of the configuration banner.
type GatedWriter struct {
	mu         sync.RWMutex
	underlying io.Writer
	buffer     bytes.Buffer
	state      GateState
	maxBuffer  int
}

// GatedWriterConfig configures a GatedWriter.
type GatedWriterConfig struct {
	// Underlying is the writer flushed to when the gate opens. Defaults
	// to io.Discard.
	Underlying io.Writer

	// InitialState determines whether the gate starts open or closed.
	InitialState GateState

	// MaxBufferSize caps buffered bytes while closed; the oldest bytes
	// are discarded past the cap. Zero means unlimited.
	MaxBufferSize int
}

func NewGatedWriter(config GatedWriterConfig) *GatedWriter {
	if config.Underlying == nil {
		config.Underlying = io.Discard
	}
	return &GatedWriter{
		underlying: config.Underlying,
		state:      config.InitialState,
		maxBuffer:  config.MaxBufferSize,
	}
}

func (gw *GatedWriter) Write(p []byte) (int, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return gw.underlying.Write(p)
	}

	if gw.maxBuffer > 0 && gw.buffer.Len()+len(p) > gw.maxBuffer {
		excess := gw.buffer.Len() + len(p) - gw.maxBuffer
		gw.buffer.Next(excess)
	}
	return gw.buffer.Write(p)
}

// OpenGate opens the gate and flushes all buffered bytes.
func (gw *GatedWriter) OpenGate() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return nil
	}
	gw.state = GateOpen
	return gw.flushLocked()
}

// CloseGate returns the writer to buffering mode.
func (gw *GatedWriter) CloseGate() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.state = GateClosed
}

// Flush writes buffered bytes without opening the gate.
func (gw *GatedWriter) Flush() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.flushLocked()
}

func (gw *GatedWriter) flushLocked() error {
	if gw.buffer.Len() == 0 {
		return nil
	}
	_, err := gw.underlying.Write(gw.buffer.Bytes())
	gw.buffer.Reset()
	return err
}

// IsOpen reports whether the gate is open.
func (gw *GatedWriter) IsOpen() bool {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.state == GateOpen
}

// BufferedSize returns the number of buffered bytes.
func (gw *GatedWriter) BufferedSize() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.buffer.Len()
}

// GatedLogger couples a Logger with gate control over its output. Child
// loggers created through the With* methods share the same gate.
type GatedLogger struct {
	Logger
	gate *GatedWriter
}

// NewGatedLogger builds a logger whose configured outputs are replaced
// by a single gated writer. The gate's underlying writer defaults to the
// first configured output.
func NewGatedLogger(config *Config, gateConfig GatedWriterConfig) (*GatedLogger, *GatedWriter) {
	if config == nil {
		config = DefaultConfig()
	}
	if gateConfig.Underlying == nil && len(config.Outputs) > 0 {
		gateConfig.Underlying = config.Outputs[0]
	}

	gate := NewGatedWriter(gateConfig)
	config.Outputs = []io.Writer{gate}

	return &GatedLogger{
		Logger: NewZerologLogger(config),
		gate:   gate,
	}, gate
}

func (gl *GatedLogger) WithSystem(name string) Logger {
	return &GatedLogger{
		Logger: gl.Logger.WithSystem(name),
		gate:   gl.gate,
	}
}

func (gl *GatedLogger) WithSubsystem(name string) Logger {
	return &GatedLogger{
		Logger: gl.Logger.WithSubsystem(name),
		gate:   gl.gate,
	}
}

func (gl *GatedLogger) WithFields(fields ...TypedField) Logger {
	return &GatedLogger{
		Logger: gl.Logger.WithFields(fields...),
		gate:   gl.gate,
	}
}

// OpenGate opens the gate and flushes buffered logs.
func (gl *GatedLogger) OpenGate() error {
	return gl.gate.OpenGate()
}

// CloseGate returns the logger's output to buffering mode.
func (gl *GatedLogger) CloseGate() {
	gl.gate.CloseGate()
}

// IsGateOpen reports whether the gate is open.
func (gl *GatedLogger) IsGateOpen() bool {
	return gl.gate.IsOpen()
}
