package store

import (
	"context"
	"testing"
)

const badgerTestPrefix = "store:badger_test"

func TestBadgerBackend_RoundTripInMemory(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadgerBackend("")
	if err != nil {
		t.Fatalf("%s - OpenBadgerBackend failed: %v", badgerTestPrefix, err)
	}
	defer b.Close()

	if _, ok, err := b.Get(ctx, KeyServerURL); ok || err != nil {
		t.Fatalf("%s - Get on empty db = ok=%v err=%v", badgerTestPrefix, ok, err)
	}
	if err := b.Put(ctx, KeyServerURL, "https://x.example/"); err != nil {
		t.Fatalf("%s - Put failed: %v", badgerTestPrefix, err)
	}
	v, ok, err := b.Get(ctx, KeyServerURL)
	if err != nil || !ok || v != "https://x.example/" {
		t.Errorf("%s - Get = (%q, %v, %v)", badgerTestPrefix, v, ok, err)
	}
	if err := b.Delete(ctx, KeyServerURL); err != nil {
		t.Fatalf("%s - Delete failed: %v", badgerTestPrefix, err)
	}
	if _, ok, _ := b.Get(ctx, KeyServerURL); ok {
		t.Errorf("%s - key still present after delete", badgerTestPrefix)
	}
	if err := b.Ping(ctx); err != nil {
		t.Errorf("%s - Ping failed: %v", badgerTestPrefix, err)
	}
}

func TestBadgerBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := OpenBadgerBackend(dir)
	if err != nil {
		t.Fatalf("%s - OpenBadgerBackend failed: %v", badgerTestPrefix, err)
	}
	s := New(b, testDefaults, nil)
	if err := s.SetSecurityToken(ctx, "rotated"); err != nil {
		t.Fatalf("%s - SetSecurityToken failed: %v", badgerTestPrefix, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("%s - Close failed: %v", badgerTestPrefix, err)
	}

	b2, err := OpenBadgerBackend(dir)
	if err != nil {
		t.Fatalf("%s - reopen failed: %v", badgerTestPrefix, err)
	}
	defer b2.Close()
	token, err := New(b2, testDefaults, nil).SecurityToken(ctx)
	if err != nil || token != "rotated" {
		t.Errorf("%s - SecurityToken after reopen = (%q, %v)", badgerTestPrefix, token, err)
	}
}

func TestBadgerBackend_PingAfterClose(t *testing.T) {
	b, err := OpenBadgerBackend("")
	if err != nil {
		t.Fatalf("%s - OpenBadgerBackend failed: %v", badgerTestPrefix, err)
	}
	_ = b.Close()
	if err := b.Ping(context.Background()); err == nil {
		t.Errorf("%s - expected Ping to fail after Close", badgerTestPrefix)
	}
}
