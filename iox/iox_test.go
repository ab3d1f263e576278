package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct {
	io.Reader
	closed bool
	err    error
}

func (s *spyCloser) Close() error { s.closed = true; return s.err }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	r := strings.NewReader("unread response body")
	s := &spyCloser{Reader: r}
	DrainClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	if r.Len() != 0 {
		t.Errorf("%d bytes left unread", r.Len())
	}
}

func TestDrainClose_Bounded(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", drainLimit+10))
	DrainClose(&spyCloser{Reader: r})
	if r.Len() != 10 {
		t.Errorf("expected 10 bytes left past the drain limit, got %d", r.Len())
	}
}

func TestCloseInto(t *testing.T) {
	closeErr := errors.New("disk full")
	first := errors.New("write failed")

	tests := []struct {
		name  string
		start error
		close error
		want  error
	}{
		{"both nil", nil, nil, nil},
		{"close error recorded", nil, closeErr, closeErr},
		{"earlier error kept", first, closeErr, first},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.start
			s := &spyCloser{err: tt.close}
			CloseInto(&err, s)
			if !s.closed {
				t.Fatal("Close was not called")
			}
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
