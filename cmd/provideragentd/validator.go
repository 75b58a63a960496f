package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/golem-market/provideragent/internal/store"
)

// hashValidator implements matcher.Validator by recomputing a subscription's
// id as the hex-encoded sha256 over its canonicalized content and comparing
// against the claimed id. This defends against a peer forging an id that
// collides with a record it does not actually hold (SPEC_FULL.md §4.6).
type hashValidator struct{}

func (hashValidator) Validate(r store.Record) error {
	want := hashRecord(r)
	if string(r.ID) != want {
		return fmt.Errorf("id [%s] does not match content hash [%s]", r.ID, want)
	}
	return nil
}

func hashRecord(r store.Record) string {
	h := sha256.New()
	fmt.Fprintf(h, "author=%s\n", r.AuthorID)
	fmt.Fprintf(h, "constraints=%s\n", r.Constraints)

	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "prop=%s=%s\n", k, r.Properties[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
