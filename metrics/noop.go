package metrics

import "context"

// NoopCollector discards everything.
type NoopCollector struct{}

func (n *NoopCollector) SessionOpened() {}
func (n *NoopCollector) SessionClosed() {}
func (n *NoopCollector) TLSEstablished() {}
func (n *NoopCollector) CommandProcessed(command string) {}
func (n *NoopCollector) MessageAccepted(senderDomain string, size int64) {}
func (n *NoopCollector) MessageRejected(senderDomain string, reason string) {}
func (n *NoopCollector) SPFCheckCompleted(senderDomain, result string) {}
func (n *NoopCollector) DKIMCheckCompleted(senderDomain, result string) {}
func (n *NoopCollector) DMARCCheckCompleted(senderDomain, result string) {}
func (n *NoopCollector) BlocklistHit(zone string) {}
func (n *NoopCollector) DeliveryCompleted(recipientDomain, result string) {}

// NoopServer serves nothing.
type NoopServer struct{}

// Start returns immediately.
func (n *NoopServer) Start(ctx context.Context) error { return nil }

// Shutdown returns immediately.
func (n *NoopServer) Shutdown(ctx context.Context) error { return nil }
