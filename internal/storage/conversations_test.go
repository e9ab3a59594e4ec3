package storage

import (
	"errors"
	"testing"
)

func TestConversationLifecycle(t *testing.T) {
	s := openTestStore(t)

	c, err := s.CreateConversation("conv-1", "Morning chat")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c.ID != "conv-1" || c.Name != "Morning chat" {
		t.Errorf("conversation = %+v", c)
	}

	if _, err := s.AppendMessage("conv-1", RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage("conv-1", RoleAssistant, "hi there"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := s.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}

	msgs, err := s.GetMessages("conv-1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("messages = %+v", msgs)
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Errorf("message contents wrong: %+v", msgs)
	}
}

func TestResetConversationKeepsEntity(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateConversation("conv-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage("conv-1", RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}

	if err := s.ResetConversation("conv-1"); err != nil {
		t.Fatalf("ResetConversation: %v", err)
	}

	c, err := s.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("conversation deleted by reset: %v", err)
	}
	if c.MessageCount != 0 {
		t.Errorf("MessageCount = %d after reset, want 0", c.MessageCount)
	}
}

func TestDeleteConversationCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateConversation("conv-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage("conv-1", RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation("conv-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	msgs, err := s.GetMessages("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages not cascaded: %d remain", len(msgs))
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.AppendMessage("missing", RoleUser, "hello"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRenameConversation(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateConversation("conv-1", "old"); err != nil {
		t.Fatal(err)
	}
	if err := s.RenameConversation("conv-1", "new"); err != nil {
		t.Fatalf("RenameConversation: %v", err)
	}
	c, err := s.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "new" {
		t.Errorf("Name = %q, want new", c.Name)
	}
	if err := s.RenameConversation("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
