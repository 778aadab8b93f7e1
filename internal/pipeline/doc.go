// Package pipeline drives one item through its stage state machine:
//
//	DISCOVERED → FACT_DONE → STYLE_DONE → FUNCTION_DONE →
//	    (CORRECTION_DONE | CONSENSUS_PENDING) → FINALIZED
//
// Stages run strictly in order and the record is persisted after each one.
// A failed stage leaves its fields null and the next stage still runs.
// Members of consensus groups stop at CONSENSUS_PENDING and are finalized by
// the finalize package; prefix-group items run correction and finalize here.
package pipeline
