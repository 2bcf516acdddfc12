package store_test

import (
	"context"
	"errors"
	"testing"

	"pigeon/internal/domain"
	"pigeon/internal/store"
)

func relationOf(t *testing.T, m *store.Memory, me, peer string) (domain.RelationState, bool) {
	t.Helper()
	relations, err := m.ListRelations(context.Background(), me)
	if err != nil {
		t.Fatalf("ListRelations(%s): %v", me, err)
	}
	for _, rel := range relations {
		if rel.Peer == peer {
			return rel.State, true
		}
	}
	return "", false
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.CreateUser(ctx, "alice", []byte("hash"), []byte("salt")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := m.CreateUser(ctx, "alice", []byte("x"), []byte("y")); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("duplicate: want ErrUsernameTaken, got %v", err)
	}

	if err := m.UpdatePassword(ctx, "alice", []byte("hash2"), []byte("salt2")); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	user, err := m.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if string(user.PasswordHash) != "hash2" || string(user.PasswordSalt) != "salt2" {
		t.Fatal("password update not persisted")
	}

	if _, err := m.GetUser(ctx, "nobody"); !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("want ErrUnknownUser, got %v", err)
	}
	if err := m.UpdatePassword(ctx, "nobody", nil, nil); !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("want ErrUnknownUser, got %v", err)
	}
}

func TestRequestAndAccept(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.SetRequested(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	if state, _ := relationOf(t, m, "alice", "bob"); state != domain.RelationRequestSent {
		t.Fatalf("alice sees %q", state)
	}
	if state, _ := relationOf(t, m, "bob", "alice"); state != domain.RelationRequestReceived {
		t.Fatalf("bob sees %q", state)
	}

	if err := m.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	friends, err := m.AreFriends(ctx, "alice", "bob")
	if err != nil || !friends {
		t.Fatalf("AreFriends after accept: %v, %v", friends, err)
	}
	// Both sides fold to exactly one friends relation, no mirror duplicates.
	for _, who := range []string{"alice", "bob"} {
		relations, err := m.ListRelations(ctx, who)
		if err != nil {
			t.Fatalf("ListRelations: %v", err)
		}
		if len(relations) != 1 || relations[0].State != domain.RelationFriends {
			t.Fatalf("%s sees %+v", who, relations)
		}
	}
}

func TestSetRequestedRejectsExistingRelation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.SetRequested(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	if err := m.SetRequested(ctx, "alice", "bob"); !errors.Is(err, domain.ErrAlreadyRelated) {
		t.Fatalf("repeat request: want ErrAlreadyRelated, got %v", err)
	}
	if err := m.SetRequested(ctx, "bob", "alice"); !errors.Is(err, domain.ErrAlreadyRelated) {
		t.Fatalf("reverse request: want ErrAlreadyRelated, got %v", err)
	}
}

func TestPromoteIfRequested(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	promoted, err := m.PromoteIfRequested(ctx, "alice", "bob")
	if err != nil || promoted {
		t.Fatalf("promote without request: %v, %v", promoted, err)
	}

	if err := m.SetRequested(ctx, "bob", "alice"); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	promoted, err = m.PromoteIfRequested(ctx, "alice", "bob")
	if err != nil || !promoted {
		t.Fatalf("promote with pending request: %v, %v", promoted, err)
	}
	if friends, _ := m.AreFriends(ctx, "alice", "bob"); !friends {
		t.Fatal("promotion did not create the friends pair")
	}
}

func TestAcceptWithoutPendingRequest(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.AcceptRequest(ctx, "bob", "alice"); !errors.Is(err, domain.ErrNoPendingRequest) {
		t.Fatalf("want ErrNoPendingRequest, got %v", err)
	}

	// The sender cannot accept their own request.
	if err := m.SetRequested(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	if err := m.AcceptRequest(ctx, "alice", "bob"); !errors.Is(err, domain.ErrNoPendingRequest) {
		t.Fatalf("want ErrNoPendingRequest, got %v", err)
	}
}

func TestRejectLeavesNoResidue(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.SetRequested(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	if err := m.DeleteRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("DeleteRequest: %v", err)
	}

	if _, ok := relationOf(t, m, "alice", "bob"); ok {
		t.Fatal("alice still sees a relation after rejection")
	}
	if _, ok := relationOf(t, m, "bob", "alice"); ok {
		t.Fatal("bob still sees a relation after rejection")
	}

	// Rejection leaves the pair free to try again.
	if err := m.SetRequested(ctx, "alice", "bob"); err != nil {
		t.Fatalf("re-request after rejection: %v", err)
	}
}

func TestDeleteFriendship(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	if err := m.DeleteFriendship(ctx, "alice", "bob"); !errors.Is(err, domain.ErrNotFriends) {
		t.Fatalf("want ErrNotFriends, got %v", err)
	}

	if err := m.SetRequested(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SetRequested: %v", err)
	}
	if err := m.DeleteFriendship(ctx, "alice", "bob"); !errors.Is(err, domain.ErrNotFriends) {
		t.Fatalf("pending request is not a friendship: got %v", err)
	}

	if err := m.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if err := m.DeleteFriendship(ctx, "bob", "alice"); err != nil {
		t.Fatalf("DeleteFriendship: %v", err)
	}
	if friends, _ := m.AreFriends(ctx, "alice", "bob"); friends {
		t.Fatal("still friends after deletion")
	}
	if _, ok := relationOf(t, m, "alice", "bob"); ok {
		t.Fatal("edge residue after deletion")
	}
}
