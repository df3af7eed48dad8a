// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package codel implements a loss-tolerant, delay-bounded write queue using
// the Controlled-Delay (CoDel) active-queue-management discipline. It bounds
// queueing latency instead of throughput: entries whose sojourn time stays
// above a target delay for a sustained interval are dropped, with drops paced
// at a geometrically shrinking interval until the delay recovers.
//
// The discipline is lossy and best effort. Producers are not told about
// drops and must tolerate silent loss; it is intended for traffic where late
// packets are worse than dropped packets.
package codel
