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
	// EnvelopesProcessed tracks signed_data frames accepted or rejected.
	EnvelopesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "processed_total",
			Help:      "Total number of signed envelopes processed",
		},
		[]string{"inner_type", "status"}, // hello/chat/..., accepted/rejected
	)

	// EnvelopeRejections tracks rejected envelopes by reason.
	EnvelopeRejections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "rejections_total",
			Help:      "Total number of envelopes rejected by reason",
		},
		[]string{"reason"}, // stale_counter, bad_signature_encoding, bad_signature
	)

	// EnvelopeSize tracks the size of envelope payloads.
	EnvelopeSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "size_bytes",
			Help:      "Size of signed envelope frames in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)
