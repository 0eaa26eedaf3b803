package ingest

// PacketConn exposes the receive loop's socket view to external tests.
type PacketConn = packetConn

// SetConnWrapper decorates the socket of subsequent Runs.
func (in *Ingestor) SetConnWrapper(wrap func(PacketConn) PacketConn) { in.wrap = wrap }
