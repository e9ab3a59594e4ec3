package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a new conversation with the given id and name.
func (s *Store) CreateConversation(id, name string) (Conversation, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(`
		INSERT INTO conversations (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, name, fmtTime(now), fmtTime(now),
	); err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return Conversation{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation returns a conversation with its message count.
func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var created, updated string
	err := s.db.QueryRow(`
		SELECT c.id, c.name, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.Name, &created, &updated, &c.MessageCount)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return Conversation{}, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// ListConversations returns conversations most recently updated first.
func (s *Store) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT c.id, c.name, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c ORDER BY c.updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Name, &created, &updated, &c.MessageCount); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// RenameConversation updates a conversation's display name.
func (s *Store) RenameConversation(id, name string) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?`,
		name, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation; its messages cascade.
func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetConversation clears a conversation's history without deleting the
// conversation itself.
func (s *Store) ResetConversation(id string) error {
	if _, err := s.GetConversation(id); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM conversation_messages WHERE conversation_id = ?", id)
	return err
}

// AppendMessage appends a message to a conversation's history and bumps the
// conversation's updated_at.
func (s *Store) AppendMessage(conversationID, role, content string) (ConversationMessage, error) {
	now := time.Now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return ConversationMessage{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	upd, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, fmtTime(now), conversationID)
	if err != nil {
		return ConversationMessage{}, err
	}
	if n, err := upd.RowsAffected(); err != nil {
		return ConversationMessage{}, err
	} else if n == 0 {
		return ConversationMessage{}, ErrNotFound
	}

	res, err := tx.Exec(`
		INSERT INTO conversation_messages (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		conversationID, role, content, fmtTime(now),
	)
	if err != nil {
		return ConversationMessage{}, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ConversationMessage{}, err
	}

	if err := tx.Commit(); err != nil {
		return ConversationMessage{}, fmt.Errorf("committing: %w", err)
	}

	return ConversationMessage{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// GetMessages returns a conversation's messages in insertion order.
func (s *Store) GetMessages(conversationID string) ([]ConversationMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
