package subscriptions

import "testing"

func TestAddAndByAddress(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")
	tr.Add("nodeA", Pattern, "news.*")

	got := tr.ByAddress("nodeA")
	if len(got[Channel]) != 1 || got[Channel][0] != "news" {
		t.Errorf("ByAddress Channel = %v", got[Channel])
	}
	if len(got[Pattern]) != 1 || got[Pattern][0] != "news.*" {
		t.Errorf("ByAddress Pattern = %v", got[Pattern])
	}
}

func TestUnassignFromAddressMovesEntries(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")
	tr.UnassignFromAddress("nodeA")

	if got := tr.ByAddress("nodeA"); got != nil {
		t.Errorf("expected nodeA to have no subscriptions after unassign, got %v", got)
	}
	unassigned := tr.Unassigned()
	if len(unassigned[Channel]) != 1 || unassigned[Channel][0] != "news" {
		t.Errorf("expected news to be unassigned, got %v", unassigned[Channel])
	}
}

func TestAddClearsUnassigned(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")
	tr.UnassignFromAddress("nodeA")
	tr.Add("nodeB", Channel, "news")

	unassigned := tr.Unassigned()
	if len(unassigned[Channel]) != 0 {
		t.Errorf("expected news to be re-homed off the unassigned list, got %v", unassigned[Channel])
	}
	got := tr.ByAddress("nodeB")
	if len(got[Channel]) != 1 || got[Channel][0] != "news" {
		t.Errorf("ByAddress(nodeB) = %v", got[Channel])
	}
}

func TestRemove(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")
	tr.Remove(Channel, "news")
	if got := tr.ByAddress("nodeA"); len(got[Channel]) != 0 {
		t.Errorf("expected news removed, got %v", got[Channel])
	}
}

func TestRehomeMovesEntryToNewOwner(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")

	owner := func(kind Kind, item string) (string, bool) { return "nodeB", true }
	touched := tr.Rehome(owner)

	if got := tr.ByAddress("nodeA"); len(got[Channel]) != 0 {
		t.Errorf("expected nodeA to lose the subscription, got %v", got[Channel])
	}
	got := tr.ByAddress("nodeB")
	if len(got[Channel]) != 1 || got[Channel][0] != "news" {
		t.Errorf("expected news re-homed onto nodeB, got %v", got[Channel])
	}
	if len(touched) != 2 {
		t.Errorf("expected both old and new owner reported touched, got %v", touched)
	}
}

func TestRehomeLeavesUnchangedOwnerAlone(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")

	owner := func(kind Kind, item string) (string, bool) { return "nodeA", true }
	touched := tr.Rehome(owner)

	if len(touched) != 0 {
		t.Errorf("expected no addresses touched when owner is unchanged, got %v", touched)
	}
	got := tr.ByAddress("nodeA")
	if len(got[Channel]) != 1 || got[Channel][0] != "news" {
		t.Errorf("expected news to stay on nodeA, got %v", got[Channel])
	}
}

func TestRehomeAssignsUnassignedOnceOwnerKnown(t *testing.T) {
	tr := New()
	tr.Add("nodeA", Channel, "news")
	tr.UnassignFromAddress("nodeA")

	owner := func(kind Kind, item string) (string, bool) { return "nodeC", true }
	touched := tr.Rehome(owner)

	if len(tr.Unassigned()[Channel]) != 0 {
		t.Errorf("expected news to leave unassigned once an owner is known")
	}
	got := tr.ByAddress("nodeC")
	if len(got[Channel]) != 1 || got[Channel][0] != "news" {
		t.Errorf("expected news assigned to nodeC, got %v", got[Channel])
	}
	if len(touched) != 1 || touched[0] != "nodeC" {
		t.Errorf("expected only nodeC reported touched, got %v", touched)
	}
}
