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
	// FilesStored tracks successful uploads to the file store.
	FilesStored = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "stored_total",
			Help:      "Total number of files accepted by the file store",
		},
	)

	// FileStoreErrors tracks failed uploads by reason.
	FileStoreErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "errors_total",
			Help:      "Total number of file store errors",
		},
		[]string{"reason"}, // too_large, write_failed
	)

	// FileSize tracks the size of stored files.
	FileSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "size_bytes",
			Help:      "Size of files accepted by the file store",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB-ish; uploads above the 10 MiB MaxUploadBytes are rejected before storage
		},
	)
)
