package chat

import (
	"log/slog"

	"github.com/andy6609/relay-chat/internal/protocol"
)

// Broadcaster fans chat text out to every registered session but the sender.
type Broadcaster struct {
	reg    *Registry
	logger *slog.Logger
}

func NewBroadcaster(reg *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{reg: reg, logger: logger}
}

// Delivery lists the recipients of one broadcast by nickname.
type Delivery struct {
	Delivered []string
	Failed    []string
}

// Broadcast queues a broadcast frame for every other registered session.
// A recipient that cannot take the frame is released and closed; the others
// still get theirs, and the sender is never told.
func (b *Broadcaster) Broadcast(sender *Peer, nickname, content, timestamp string) Delivery {
	msg := protocol.Broadcast(nickname, content, timestamp)

	var d Delivery
	for _, e := range b.reg.SnapshotOthers(sender) {
		if err := e.Peer.Send(msg); err != nil {
			b.reg.Release(e.Peer)
			_ = e.Peer.Close()
			b.logger.Warn("client disconnected unexpectedly",
				"nickname", e.Identity.Nickname,
				"client_id", e.Identity.ClientID,
				"error", err)
			BroadcastDeliveries.WithLabelValues("failed").Inc()
			d.Failed = append(d.Failed, e.Identity.Nickname)
			continue
		}
		BroadcastDeliveries.WithLabelValues("delivered").Inc()
		d.Delivered = append(d.Delivered, e.Identity.Nickname)
	}

	if len(d.Delivered) > 0 || len(d.Failed) > 0 {
		b.logger.Info("broadcasted",
			"from", nickname,
			"recipients", d.Delivered,
			"failed", d.Failed)
	}
	return d
}
