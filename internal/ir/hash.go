package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity. The version suffix
// leaves room for changing the hashed shape later.
const (
	DomainRecord  = "recipesync/record/v1"
	DomainBinding = "recipesync/binding/v1"
	DomainMatch   = "recipesync/match/v1"
	DomainFiring  = "recipesync/firing/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator removes ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordID computes the content-addressed id of a completed action.
// Identical input replayed at the same position in the same flow yields the
// same id, which is what makes the action log idempotent.
func RecordID(flow string, op OpRef, input Record, seq int64) (string, error) {
	obj := Record{
		"flow":  String(flow),
		"op":    String(op.String()),
		"input": input,
		"seq":   Int(seq),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RecordID: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// BindingHash hashes the bound values of a frame. Unbound entries are
// skipped, matching the rule that absent and unbound are the same thing.
func BindingHash(bindings Record) (string, error) {
	bound := make(Record, len(bindings))
	for k, v := range bindings {
		if !IsUnbound(v) {
			bound[k] = v
		}
	}
	canonical, err := MarshalCanonical(bound)
	if err != nil {
		return "", fmt.Errorf("BindingHash: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// MatchKey identifies one rule instance: the rule plus the records that
// satisfied its when clauses, in clause order.
func MatchKey(rule string, recordIDs []string) string {
	return hashWithDomain(DomainMatch, []byte(rule+"\x00"+strings.Join(recordIDs, ",")))
}

// FiringID identifies the firing of one frame of a matched rule instance.
// The frame index keeps identical frames of a fan-out distinct.
func FiringID(matchKey, bindingHash string, index int) string {
	return hashWithDomain(DomainFiring, []byte(fmt.Sprintf("%s\x00%s\x00%d", matchKey, bindingHash, index)))
}

// MustRecordID is like RecordID but panics on error. Tests only.
func MustRecordID(flow string, op OpRef, input Record, seq int64) string {
	id, err := RecordID(flow, op, input, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustBindingHash is like BindingHash but panics on error. Tests only.
func MustBindingHash(bindings Record) string {
	h, err := BindingHash(bindings)
	if err != nil {
		panic(err)
	}
	return h
}
