package fakerand

import (
	"bytes"
	"testing"
)

func TestRandom_Sequential(t *testing.T) {
	r := New()
	a := make([]byte, 4)
	b := make([]byte, 4)
	r.Read(a)
	r.Read(b)

	if !bytes.Equal(a, []byte{0, 1, 2, 3}) {
		t.Errorf("first read = %v", a)
	}
	if !bytes.Equal(b, []byte{4, 5, 6, 7}) {
		t.Errorf("second read = %v, want sequence to keep advancing", b)
	}
}

func TestRandom_FixedRepeats(t *testing.T) {
	r := NewFixed([]byte{0xAA, 0xBB})
	got := make([]byte, 5)
	r.Read(got)

	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xAA, 0xBB, 0xAA}) {
		t.Errorf("Read = %v", got)
	}
}

func TestRandom_Reset(t *testing.T) {
	r := New()
	first := make([]byte, 3)
	r.Read(first)
	r.Reset()

	again := make([]byte, 3)
	r.Read(again)
	if !bytes.Equal(first, again) {
		t.Errorf("after Reset: %v != %v", again, first)
	}
}
