package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"farmchat/models"
)

type scanner interface {
	Scan(dest ...any) error
}

// Append inserts a new message row. The write is committed before the
// call returns; there are no partial writes visible to readers.
func (s *Store) Append(message models.Message) error {
	if message.ID == "" {
		return errors.New("message id is required")
	}
	if message.SenderID == "" {
		return errors.New("sender id is required")
	}
	if message.ReceiverID == "" {
		return errors.New("receiver id is required")
	}
	if message.Content == "" {
		return errors.New("content is required")
	}
	if message.Type == "" {
		message.Type = models.MessageTypeText
	}
	if err := validateMessageType(message.Type); err != nil {
		return err
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	read := 0
	if message.Read {
		read = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, sender_id, receiver_id, content, type, timestamp, read)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.SenderID,
		message.ReceiverID,
		message.Content,
		message.Type,
		message.Timestamp,
		read,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.ID, err)
	}

	return nil
}

// QueryPair returns all messages between two users in both directions,
// oldest first.
func (s *Store) QueryPair(idA, idB string) ([]models.Message, error) {
	if idA == "" || idB == "" {
		return nil, errors.New("both participant ids are required")
	}

	rows, err := s.db.Query(
		`SELECT id, sender_id, receiver_id, content, type, timestamp, read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC, id ASC`,
		idA, idB, idB, idA,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for pair (%q, %q): %w", idA, idB, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// QueryAll returns every stored message, oldest first.
func (s *Store) QueryAll() ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_id, receiver_id, content, type, timestamp, read
		FROM messages
		ORDER BY timestamp ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// GetMessageByID fetches one message by ID.
func (s *Store) GetMessageByID(messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, errors.New("message id is required")
	}

	row := s.db.QueryRow(
		`SELECT id, sender_id, receiver_id, content, type, timestamp, read
		FROM messages
		WHERE id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// DeleteByID removes a single message.
func (s *Store) DeleteByID(messageID string) error {
	if messageID == "" {
		return errors.New("message id is required")
	}

	res, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteByPair removes all messages between two users, in both
// directions. Messages involving third parties are untouched.
func (s *Store) DeleteByPair(idA, idB string) (int64, error) {
	if idA == "" || idB == "" {
		return 0, errors.New("both participant ids are required")
	}

	res, err := s.db.Exec(
		`DELETE FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
		idA, idB, idB, idA,
	)
	if err != nil {
		return 0, fmt.Errorf("delete messages for pair (%q, %q): %w", idA, idB, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for pair delete: %w", err)
	}

	return rowsAffected, nil
}

// MarkPairRead flags every message sent by otherID to selfID as read.
func (s *Store) MarkPairRead(selfID, otherID string) error {
	if selfID == "" || otherID == "" {
		return errors.New("both participant ids are required")
	}

	_, err := s.db.Exec(
		`UPDATE messages SET read = 1
		WHERE receiver_id = ? AND sender_id = ? AND read = 0`,
		selfID, otherID,
	)
	if err != nil {
		return fmt.Errorf("mark pair (%q, %q) read: %w", selfID, otherID, err)
	}

	return nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message models.Message
		read    int
	)

	if err := row.Scan(
		&message.ID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Content,
		&message.Type,
		&message.Timestamp,
		&read,
	); err != nil {
		return nil, err
	}

	message.Read = read == 1
	return &message, nil
}
