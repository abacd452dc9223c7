// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients tracks currently connected client WebSocket sessions.
	ConnectedClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Number of currently connected client sessions",
		},
	)

	// PeerState tracks the reconnect state machine of each neighbour.
	PeerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "peer_state",
			Help:      "Current state of each neighbour server (1 = current state)",
		},
		[]string{"address", "state"}, // disconnected/connecting/handshaking/connected
	)

	// PeerReconnectAttempts tracks reconnect attempts per neighbour.
	PeerReconnectAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "peer_reconnect_attempts_total",
			Help:      "Total number of reconnect attempts per neighbour",
		},
		[]string{"address"},
	)

	// FramesRelayed tracks frames routed to a destination.
	FramesRelayed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_relayed_total",
			Help:      "Total number of frames relayed by type",
		},
		[]string{"inner_type", "direction"}, // client, peer
	)

	// FramesDropped tracks frames dropped due to backpressure or routing failure.
	FramesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped",
		},
		[]string{"reason"}, // queue_full, unknown_destination, unknown_recipient
	)
)
