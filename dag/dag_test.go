package dag_test

import (
	"testing"

	"modalnode/dag"
	"modalnode/model"
)

func cert(round uint64, author byte, digest byte, parents ...model.Hash) *model.Certificate {
	var a model.Address
	a[0] = author
	var d model.Hash
	d[0] = digest
	return &model.Certificate{Digest: d, Author: a, Round: round, Parents: parents}
}

func TestInsertRejectsEquivocation(t *testing.T) {
	g := dag.New()
	c1 := cert(1, 0x01, 0xAA)
	if err := g.Insert(c1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	c2 := cert(1, 0x01, 0xBB) // same author/round, different digest
	if err := g.Insert(c2); err == nil {
		t.Fatalf("expected equivocation error")
	}
	if !g.DetectEquivocation(c2) {
		t.Fatalf("expected DetectEquivocation to report true")
	}
}

func TestHasPathFollowsParentChain(t *testing.T) {
	g := dag.New()
	var root model.Hash
	root[0] = 0x01
	c1 := cert(1, 0x01, 0x01)
	c2 := cert(2, 0x02, 0x02, c1.Digest)
	c3 := cert(3, 0x03, 0x03, c2.Digest)
	for _, c := range []*model.Certificate{c1, c2, c3} {
		if err := g.Insert(c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if !g.HasPath(c3.Digest, c1.Digest) {
		t.Fatalf("expected path from c3 to c1")
	}
	if g.HasPath(c1.Digest, c3.Digest) {
		t.Fatalf("did not expect path from c1 to c3 (wrong direction)")
	}
}

func TestRoundSizeAndHighestRound(t *testing.T) {
	g := dag.New()
	_ = g.Insert(cert(1, 0x01, 0x01))
	_ = g.Insert(cert(1, 0x02, 0x02))
	_ = g.Insert(cert(5, 0x03, 0x03))
	if g.RoundSize(1) != 2 {
		t.Fatalf("round 1 size = %d, want 2", g.RoundSize(1))
	}
	if g.HighestRound() != 5 {
		t.Fatalf("highest round = %d, want 5", g.HighestRound())
	}
}
