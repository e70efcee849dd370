package app

import (
	"testing"

	"github.com/dkeye/vidcall/internal/core/coretest"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/stretchr/testify/require"
)

func participant(conn, stream, name string) domain.Participant {
	return domain.Participant{ConnectionID: conn, StreamID: stream, DisplayName: name}
}

func TestRegistryInsertionOrder(t *testing.T) {
	r := NewParticipantRegistry()
	r.Joined(participant("c1", "s1", "Bob"), nil)
	r.Joined(participant("c2", "s2", "Carol"), nil)
	r.Joined(participant("c3", "s3", "Dave"), nil)

	names := func() []string {
		var out []string
		for _, p := range r.List() {
			out = append(out, p.DisplayName)
		}
		return out
	}
	require.Equal(t, []string{"Bob", "Carol", "Dave"}, names())

	_, ok := r.Left("c2")
	require.True(t, ok)
	require.Equal(t, []string{"Bob", "Dave"}, names())
}

func TestRegistryDuplicateJoinReplacesInPlace(t *testing.T) {
	r := NewParticipantRegistry()
	first := &coretest.Subscriber{}
	require.Nil(t, r.Joined(participant("c1", "s1", "Bob"), first))
	r.Joined(participant("c2", "s2", "Carol"), nil)

	replaced := r.Joined(participant("c1", "s1b", "Bobby"), nil)
	require.NotNil(t, replaced)
	require.Equal(t, first, replaced.Subscriber)

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "Bobby", list[0].DisplayName)
	require.Equal(t, "s1b", list[0].StreamID)
}

func TestRegistryLeaveIdempotent(t *testing.T) {
	r := NewParticipantRegistry()
	_, ok := r.Left("nobody")
	require.False(t, ok)

	r.Joined(participant("c1", "s1", "Bob"), nil)
	_, ok = r.Left("c1")
	require.True(t, ok)
	_, ok = r.Left("c1")
	require.False(t, ok)
	require.Zero(t, r.Len())
}

func TestRegistryStaleStreamLeaveIgnored(t *testing.T) {
	r := NewParticipantRegistry()
	r.Joined(participant("c1", "s1", "Bob"), nil)
	r.Joined(participant("c1", "s2", "Bob"), nil)

	_, ok := r.LeftStream("c1", "s1")
	require.False(t, ok)
	require.Equal(t, 1, r.Len())

	_, ok = r.LeftStream("c1", "s2")
	require.True(t, ok)
	require.Zero(t, r.Len())
}

func TestRegistryNetEffect(t *testing.T) {
	type op struct {
		join bool
		conn string
	}
	ops := []op{
		{true, "a"}, {true, "b"}, {false, "a"}, {true, "c"}, {false, "x"},
		{true, "a"}, {false, "b"}, {true, "c"}, {false, "c"}, {true, "d"},
	}
	r := NewParticipantRegistry()
	want := map[string]bool{}
	for _, o := range ops {
		if o.join {
			r.Joined(participant(o.conn, "s-"+o.conn, o.conn), nil)
			want[o.conn] = true
		} else {
			r.Left(o.conn)
			delete(want, o.conn)
		}
	}
	got := map[string]bool{}
	for _, p := range r.List() {
		got[p.ConnectionID] = true
	}
	require.Equal(t, want, got)
	require.Equal(t, []domain.Participant{participant("a", "s-a", "a"), participant("d", "s-d", "d")}, r.List())
}

func TestRegistryClear(t *testing.T) {
	r := NewParticipantRegistry()
	r.Joined(participant("c1", "s1", "Bob"), nil)
	r.Joined(participant("c2", "s2", "Carol"), nil)

	removed := r.Clear()
	require.Len(t, removed, 2)
	require.Equal(t, "c1", removed[0].Participant.ConnectionID)
	require.Empty(t, r.List())
}
