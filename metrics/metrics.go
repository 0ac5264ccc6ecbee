// Package metrics mirrors the sender and receiver engines' counters
// (spec §6's trailing summary block) into live Prometheus counters, for
// scraping during a long-running transfer rather than only reading
// them from the final log summary.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// SenderMetrics exposes a sender engine's counters as Prometheus
// collectors. Callers update them as the corresponding sender.Stats
// fields change.
type SenderMetrics struct {
	Segments          prometheus.Counter
	Bytes             prometheus.Counter
	Timeouts          prometheus.Counter
	FastRetransmits   prometheus.Counter
	DuplicateAcks     prometheus.Counter
	CorruptedAcks     prometheus.Counter
	ForwardDropped    prometheus.Counter
	ForwardCorrupted  prometheus.Counter
	ReverseDropped    prometheus.Counter
	ReverseCorrupted  prometheus.Counter
}

// NewSenderMetrics constructs a SenderMetrics and registers it with reg.
func NewSenderMetrics(reg prometheus.Registerer) *SenderMetrics {
	m := &SenderMetrics{
		Segments:         prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_segments_total", Help: "Total segments transmitted by the sender, including retransmits."}),
		Bytes:            prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_bytes_total", Help: "Total payload bytes transmitted by the sender, including retransmits."}),
		Timeouts:         prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_timeouts_total", Help: "Retransmission timer fires that caused a retransmit."}),
		FastRetransmits:  prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_fast_retransmits_total", Help: "Retransmits triggered by three duplicate ACKs."}),
		DuplicateAcks:    prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_dup_acks_total", Help: "Duplicate ACKs received for the current snd_base."}),
		CorruptedAcks:    prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_corrupted_acks_total", Help: "Corrupted datagrams observed on the ACK path and discarded."}),
		ForwardDropped:   prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_plc_forward_dropped_total", Help: "Segments dropped by the PLC shim's forward-loss trial."}),
		ForwardCorrupted: prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_plc_forward_corrupted_total", Help: "Segments bit-flipped by the PLC shim's forward-corruption trial."}),
		ReverseDropped:   prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_plc_reverse_dropped_total", Help: "ACKs dropped by the PLC shim's reverse-loss trial."}),
		ReverseCorrupted: prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_sender_plc_reverse_corrupted_total", Help: "ACKs bit-flipped by the PLC shim's reverse-corruption trial."}),
	}
	reg.MustRegister(m.Segments, m.Bytes, m.Timeouts, m.FastRetransmits, m.DuplicateAcks,
		m.CorruptedAcks, m.ForwardDropped, m.ForwardCorrupted, m.ReverseDropped, m.ReverseCorrupted)
	return m
}

// ReceiverMetrics exposes a receiver engine's counters as Prometheus
// collectors.
type ReceiverMetrics struct {
	Segments           prometheus.Counter
	Bytes              prometheus.Counter
	CorruptedDiscarded prometheus.Counter
	DuplicateReceived  prometheus.Counter
	AcksSent           prometheus.Counter
	DuplicateAcksSent  prometheus.Counter
}

// NewReceiverMetrics constructs a ReceiverMetrics and registers it
// with reg.
func NewReceiverMetrics(reg prometheus.Registerer) *ReceiverMetrics {
	m := &ReceiverMetrics{
		Segments:           prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_receiver_segments_total", Help: "Total DATA segments delivered to the byte sink."}),
		Bytes:              prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_receiver_bytes_total", Help: "Total payload bytes delivered to the byte sink."}),
		CorruptedDiscarded: prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_receiver_corrupted_discarded_total", Help: "Segments discarded for failing the payload CRC."}),
		DuplicateReceived:  prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_receiver_duplicate_segments_total", Help: "Segments discarded as already-delivered or already-buffered duplicates."}),
		AcksSent:           prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_receiver_acks_sent_total", Help: "Total ACKs sent."}),
		DuplicateAcksSent:  prometheus.NewCounter(prometheus.CounterOpts{Name: "urp_receiver_duplicate_acks_sent_total", Help: "ACKs sent with seq_num equal to the previous ACK."}),
	}
	reg.MustRegister(m.Segments, m.Bytes, m.CorruptedDiscarded, m.DuplicateReceived, m.AcksSent, m.DuplicateAcksSent)
	return m
}
